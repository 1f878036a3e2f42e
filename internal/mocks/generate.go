// Package mocks provides mock implementations of the coordination ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the store interfaces.
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockCoordinationStore(ctrl)
//	store.EXPECT().List(gomock.Any()).Return(nil, model.ErrStoreUnavailable)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=coordination_store_mock.go github.com/target/mmk-autoingest/internal/core CoordinationStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=retention_repository_mock.go github.com/target/mmk-autoingest/internal/core RetentionRepository
