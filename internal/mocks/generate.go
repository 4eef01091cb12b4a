// Package mocks provides gomock implementations of the session ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the gateway
// and navigator interfaces. Simple hand-written fakes live in internal/mocks/session.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	gw := mocks.NewMockGateway(ctrl)
//	gw.EXPECT().Status(gomock.Any()).Return(domainauth.StatusResponse{}, nil)
package mocks

// Generate mock for Gateway interface from internal/ports package.
// This creates MockGateway with methods: Status, Refresh, LoginURL, LogoutURL
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=gateway_mock.go github.com/target/sessionkeeper/internal/ports Gateway

// Generate mock for Navigator interface from internal/ports package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=navigator_mock.go github.com/target/sessionkeeper/internal/ports Navigator
