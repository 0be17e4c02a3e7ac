package mock_history

//go:generate -command mockgen go run go.uber.org/mock/mockgen -destination=./mocks.go github.com/fosav/sigscan/history
//go:generate mockgen Recorder
