package peerexec

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/broker"
	"github.com/G-Research/maestro/internal/common/metrics"
	"github.com/G-Research/maestro/internal/controlplane"
	"github.com/G-Research/maestro/internal/worker"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

// MetricsProviderFactory returns the provider the inspector samples for a management interface.
type MetricsProviderFactory func(managementInterface string) metrics.MetricsProvider

func httpMetricsProvider(managementInterface string) metrics.MetricsProvider {
	return metrics.NewHttpMetricsProvider(managementInterface, &http.Client{Timeout: DefaultInspectorInterval})
}

type ExecutorOption func(e *Executor)

func WithClock(clk clock.WithTicker) ExecutorOption {
	return func(e *Executor) { e.clock = clk }
}

func WithMetricsProvider(factory MetricsProviderFactory) ExecutorOption {
	return func(e *Executor) { e.newProvider = factory }
}

func WithInspectorInterval(interval time.Duration) ExecutorOption {
	return func(e *Executor) { e.inspectorInterval = interval }
}

// Executor is the peer daemon: it answers the orchestrator's requests and runs the services of
// its role. Requests are handled one at a time on the client's dispatch goroutine.
type Executor struct {
	client            *controlplane.Client
	logs              *LogDirectory
	factory           broker.Factory
	clock             clock.WithTicker
	newProvider       MetricsProviderFactory
	inspectorInterval time.Duration

	ctx      context.Context
	halted   chan struct{}
	haltOnce sync.Once

	mu           sync.Mutex
	info         peer.Info
	opts         worker.Options
	pool         *worker.Pool
	driver       broker.Driver
	inspector    *Inspector
	inspectorDir string
}

func NewExecutor(info peer.Info, client *controlplane.Client, logs *LogDirectory, factory broker.Factory, options ...ExecutorOption) *Executor {
	e := &Executor{
		client:            client,
		logs:              logs,
		factory:           factory,
		clock:             clock.RealClock{},
		newProvider:       httpMetricsProvider,
		inspectorInterval: DefaultInspectorInterval,
		ctx:               context.Background(),
		halted:            make(chan struct{}),
		info:              info,
		opts:              worker.DefaultOptions(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *Executor) Info() peer.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

func (e *Executor) Options() worker.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// Check reports the health of the control-plane connection.
func (e *Executor) Check() error {
	return e.client.Check()
}

// Run serves requests until ctx is done or the orchestrator halts the peer. Running services are
// stopped before it returns.
func (e *Executor) Run(ctx context.Context) error {
	e.ctx = ctx
	e.client.Bus().AddCallback(e.handle)
	info := e.Info()
	if err := e.client.Subscribe(controlplane.PeerTopics(info)...); err != nil {
		return err
	}
	go e.client.Run(ctx)
	log.WithFields(log.Fields{"peer": info.PrettyName(), "id": info.Id}).Info("waiting for requests")

	select {
	case <-ctx.Done():
	case <-e.halted:
		log.Info("halted by the orchestrator")
	}
	e.stop()
	return nil
}

func (e *Executor) handle(n note.Note) bool {
	switch n := n.(type) {
	case *note.Ping:
		e.reply(&note.PingResponse{Peer: e.Info(), Elapsed: time.Since(n.Time())})
	case *note.SetParameter:
		e.setParameter(n)
	case *note.Control:
		e.control(n)
	case *note.LogRequest:
		e.sendLogs(n)
	case *note.RoleAssign:
		e.assignRole(n.Command(), n.Role)
	default:
		log.Debugf("ignoring %s %s", n.Type(), n.Command())
	}
	return true
}

func (e *Executor) reply(n note.Reply) {
	if err := e.client.Reply(n); err != nil {
		log.WithError(err).Errorf("failed to reply %s", n.Command())
	}
}

func (e *Executor) replyError(request note.Command, err error) {
	log.WithError(err).Warnf("failed to handle %s", request)
	e.reply(&note.InternalError{Peer: e.Info(), Request: request, Message: err.Error()})
}

func (e *Executor) setParameter(n *note.SetParameter) {
	e.mu.Lock()
	err := e.opts.Set(n.Parameter, n.Value)
	e.mu.Unlock()
	if err != nil {
		e.replyError(n.Parameter, err)
		return
	}
	log.Debugf("%s set to %q", n.Parameter, n.Value)
	e.reply(&note.OkResponse{Peer: e.Info(), Request: n.Parameter})
}

func (e *Executor) control(n *note.Control) {
	if role, ok := n.StartTarget(); ok {
		if role == e.Info().Role {
			e.start(n.Command())
		}
		return
	}
	if role, ok := n.StopTarget(); ok {
		if role == e.Info().Role {
			e.stop()
		}
		return
	}
	switch n.Command() {
	case note.CmdStats:
		e.sendStats()
	case note.CmdRoleUnassign:
		e.assignRole(note.CmdRoleUnassign, peer.Other)
	case note.CmdHalt:
		e.haltOnce.Do(func() { close(e.halted) })
	}
}

func (e *Executor) start(request note.Command) {
	var err error
	switch role := e.Info().Role; role {
	case peer.Sender, peer.Receiver:
		err = e.startPool(role)
	case peer.Inspector:
		if err = e.startInspector(); err == nil {
			e.reply(&note.OkResponse{Peer: e.Info(), Request: request})
		}
	default:
		e.reply(&note.OkResponse{Peer: e.Info(), Request: request})
	}
	if err != nil {
		e.replyError(request, err)
	}
}

func (e *Executor) running() error {
	if e.pool != nil || e.inspector != nil {
		return errors.New("a test is already running")
	}
	return nil
}

func (e *Executor) startPool(role peer.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return err
	}
	if err := e.opts.Validate(); err != nil {
		return err
	}
	driver, err := e.factory(e.opts.BrokerUrl)
	if err != nil {
		return err
	}
	dir, err := e.logs.NewRunDirectory()
	if err != nil {
		closeDriver(driver)
		return err
	}
	pool, err := worker.NewPool(role, e.opts, driver, dir, e.clock)
	if err != nil {
		closeDriver(driver)
		return err
	}
	if err := writeRunProperties(dir, e.info, e.opts); err != nil {
		log.WithError(err).Warn("failed to write run properties")
	}
	if err := pool.Start(e.ctx, func(err error) { e.complete(pool, err) }); err != nil {
		closeDriver(driver)
		return err
	}
	e.pool = pool
	e.driver = driver
	return nil
}

func (e *Executor) complete(pool *worker.Pool, err error) {
	e.mu.Lock()
	if e.pool != pool {
		e.mu.Unlock()
		return
	}
	driver := e.driver
	e.pool = nil
	e.driver = nil
	info := e.info
	e.mu.Unlock()

	closeDriver(driver)
	if markErr := e.logs.MarkResult(pool.Dir(), err == nil); markErr != nil {
		log.WithError(markErr).Warn("failed to link the run directory")
	}
	if err != nil {
		e.reply(&note.TestFailed{Peer: info, Message: err.Error()})
		return
	}
	e.reply(&note.TestSuccessful{Peer: info, Message: "test completed"})
}

func (e *Executor) startInspector() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.running(); err != nil {
		return err
	}
	if e.opts.ManagementInterface == "" {
		return errors.New("no management interface set")
	}
	dir, err := e.logs.NewRunDirectory()
	if err != nil {
		return err
	}
	if err := writeRunProperties(dir, e.info, e.opts); err != nil {
		log.WithError(err).Warn("failed to write run properties")
	}
	inspector := NewInspector(e.newProvider(e.opts.ManagementInterface), e.clock, e.inspectorInterval)
	if err := inspector.Start(dir); err != nil {
		return err
	}
	e.inspector = inspector
	e.inspectorDir = dir
	return nil
}

// stop ends whatever service runs. A stopped pool reports no completion.
func (e *Executor) stop() {
	e.mu.Lock()
	pool, driver := e.pool, e.driver
	inspector, inspectorDir := e.inspector, e.inspectorDir
	e.pool, e.driver, e.inspector, e.inspectorDir = nil, nil, nil, ""
	e.mu.Unlock()

	if pool != nil {
		pool.Stop()
		closeDriver(driver)
	}
	if inspector != nil {
		err := inspector.Stop()
		if err != nil {
			log.WithError(err).Warn("failed to close the inspector log")
		}
		if err := e.logs.MarkResult(inspectorDir, err == nil); err != nil {
			log.WithError(err).Warn("failed to link the run directory")
		}
	}
}

func (e *Executor) sendStats() {
	e.mu.Lock()
	pool, info := e.pool, e.info
	e.mu.Unlock()
	if pool == nil {
		return
	}
	e.reply(&note.StatsResponse{Peer: info, Snapshot: pool.Snapshot()})
}

// sendLogs replies with one LogResponse per file of the requested location, or a single empty
// response when there is none.
func (e *Executor) sendLogs(request *note.LogRequest) {
	info := e.Info()
	dir, err := e.logs.Resolve(request.Location)
	if err != nil {
		e.replyError(note.CmdLog, err)
		return
	}
	files, err := e.logs.Files(dir, request.TypeName)
	if err != nil {
		e.replyError(note.CmdLog, err)
		return
	}
	if len(files) == 0 {
		e.reply(&note.LogResponse{Peer: info, Location: request.Location})
		return
	}
	for i, file := range files {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			e.replyError(note.CmdLog, errors.WithStack(err))
			return
		}
		hash, err := e.logs.Hash(file)
		if err != nil {
			e.replyError(note.CmdLog, err)
			return
		}
		e.reply(&note.LogResponse{
			Peer:      info,
			Location:  request.Location,
			FileName:  file.Name,
			FileIndex: int64(i),
			FileCount: int64(len(files)),
			FileSize:  int64(len(data)),
			FileHash:  hash,
			Data:      data,
		})
	}
}

func (e *Executor) assignRole(request note.Command, role peer.Role) {
	e.mu.Lock()
	err := e.running()
	if err == nil {
		e.info = e.info.WithRole(role)
	}
	e.mu.Unlock()
	if err != nil {
		e.replyError(request, errors.WithMessage(err, "cannot change role"))
		return
	}
	log.Infof("role set to %s", role)
	e.reply(&note.OkResponse{Peer: e.Info(), Request: request})
}

func closeDriver(driver broker.Driver) {
	if driver == nil {
		return
	}
	if err := driver.Close(); err != nil {
		log.WithError(err).Warn("failed to close broker driver")
	}
}
