package api

import "context"

// PathResolver builds endpoint URLs.
type PathResolver interface {
	// supportPath returns the full URL for a support chat endpoint.
	// Example: supportPath("/abc/messages") -> "https://host/support/chat/abc/messages"
	supportPath(path string) string
}

// HTTPExecutor executes requests with JSON encoding, retries and error mapping.
type HTTPExecutor interface {
	do(ctx context.Context, method, url string, body any, result any) error
	doRaw(ctx context.Context, method, url string, body any) ([]byte, error)
}

// Requester combines PathResolver and HTTPExecutor to provide
// the complete request surface used by SupportService.
//
// Tests can substitute a fake that records paths without a network:
//
//	type fakeRequester struct{ calls []string }
//	func (f *fakeRequester) supportPath(p string) string { return "/support/chat" + p }
type Requester interface {
	PathResolver
	HTTPExecutor
}
