package pool

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/mysqlasync/pool/internal/session"
)

// fakeSession is a test double for sessionAPI whose behavior is scripted
// per call number, so tests can exercise retry/backoff/healing paths
// without a real socket.
type fakeSession struct {
	mu sync.Mutex

	resolveErr  error
	connectFunc func(callNum int) error
	pingFunc    func(callNum int) error

	resolveCalls int
	connectCalls int
	pingCalls    int
	closeCalls   int
}

func (f *fakeSession) Resolve(ctx context.Context, host, port string) ([]session.Endpoint, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()

	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return []session.Endpoint{{Host: host, Port: port}}, nil
}

func (f *fakeSession) Connect(ctx context.Context, ep session.Endpoint, params session.HandshakeParams, tlsCfg *tls.Config, diag *session.Diagnostics) error {
	f.mu.Lock()
	f.connectCalls++
	n := f.connectCalls
	f.mu.Unlock()

	if f.connectFunc != nil {
		return f.connectFunc(n)
	}
	return nil
}

func (f *fakeSession) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pingCalls++
	n := f.pingCalls
	f.mu.Unlock()

	if f.pingFunc != nil {
		return f.pingFunc(n)
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	return nil
}

var _ sessionAPI = (*fakeSession)(nil)
