//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/engine/script"
	"github.com/eliteGoblin/focusd/bgsvc/internal/infra"
	"github.com/eliteGoblin/focusd/bgsvc/internal/metrics"
	"github.com/eliteGoblin/focusd/bgsvc/internal/settings"
	"github.com/eliteGoblin/focusd/bgsvc/internal/supervisor"
	"github.com/eliteGoblin/focusd/bgsvc/internal/transport"
)

const workerBundle = "../fixtures/worker.js"

// stack is a complete in-process host: encrypted settings, the script
// engine running the fixture bundle, the supervisor and the client socket.
type stack struct {
	dataDir  string
	store    *infra.EncryptedStore
	settings *settings.Settings
	sup      *supervisor.Supervisor
	client   *transport.Client

	cancel context.CancelFunc
	done   chan struct{}
}

type noopWakeLock struct{ held bool }

func (l *noopWakeLock) Acquire() error { l.held = true; return nil }
func (l *noopWakeLock) Release() error { l.held = false; return nil }
func (l *noopWakeLock) Held() bool     { return l.held }

func newStack(restartDelay time.Duration, seed map[string]string) *stack {
	dataDir, err := os.MkdirTemp("", "bgsvc-it-*")
	Expect(err).NotTo(HaveOccurred())

	store, err := infra.OpenSettingsStore(dataDir)
	Expect(err).NotTo(HaveOccurred())
	for k, v := range seed {
		Expect(store.Set(k, v)).To(Succeed())
	}

	logger := zap.NewNop()
	st := settings.New(store, logger)
	bundle, err := filepath.Abs(workerBundle)
	Expect(err).NotTo(HaveOccurred())

	reg := prometheus.NewRegistry()
	sup := supervisor.New(
		supervisor.Config{RestartDelay: restartDelay, TaskRemovedDelay: restartDelay},
		st,
		script.NewFactory(bundle, clock.New(), logger),
		infra.NewFileNotifier(dataDir),
		func() domain.WakeLock { return &noopWakeLock{} },
		nil,
		clock.New(),
		metrics.New(reg),
		logger,
	)
	socket := filepath.Join(dataDir, "bgsvc.sock")
	server := transport.NewServer(socket, sup, reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &stack{
		dataDir:  dataDir,
		store:    store,
		settings: st,
		sup:      sup,
		client:   transport.NewClient(socket),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		_ = server.Serve(ctx)
	}()
	go func() {
		defer close(s.done)
		_ = sup.Run(ctx)
		<-serverDone
	}()

	Eventually(func() error {
		_, err := s.client.Status(context.Background())
		return err
	}, 5*time.Second, 20*time.Millisecond).Should(Succeed())
	return s
}

func (s *stack) close() {
	s.cancel()
	Eventually(s.done, 5*time.Second).Should(BeClosed())
	Expect(s.store.Close()).To(Succeed())
	Expect(os.RemoveAll(s.dataDir)).To(Succeed())
}

func (s *stack) state() string {
	report, err := s.client.Status(context.Background())
	if err != nil {
		return "unreachable"
	}
	return report.State
}

func (s *stack) notifications() []domain.NotificationDescriptor {
	descs, err := infra.ReadNotificationFile(s.dataDir)
	Expect(err).NotTo(HaveOccurred())
	return descs
}

// attach binds a client and waits until the host counts want clients.
func (s *stack) attach(id string, want int) *transport.Attachment {
	a, err := s.client.Attach(context.Background(), domain.ClientID(id))
	Expect(err).NotTo(HaveOccurred())
	Eventually(func() int {
		report, err := s.client.Status(context.Background())
		if err != nil {
			return -1
		}
		return report.Clients
	}, 2*time.Second).Should(Equal(want))
	return a
}
