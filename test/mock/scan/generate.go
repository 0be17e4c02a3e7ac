package mock_scan

//go:generate -command mockgen go run go.uber.org/mock/mockgen -destination=./mocks.go github.com/fosav/sigscan/scan
//go:generate mockgen Quarantiner
