// Package miner wires the engine's independent packages — the stratum
// pool connection, job queue, nonce manager, work distributor, GPU
// scheduler and backends, and share validator — into the one process
// lifecycle spec.md describes: start, run, pause, stop.
package miner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coreminer/kawpowd/config"
	"github.com/coreminer/kawpowd/consensus/kawpow"
	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/distributor"
	"github.com/coreminer/kawpowd/gpu"
	"github.com/coreminer/kawpowd/jobqueue"
	"github.com/coreminer/kawpowd/log"
	"github.com/coreminer/kawpowd/monitor"
	"github.com/coreminer/kawpowd/noncemgr"
	"github.com/coreminer/kawpowd/scheduler"
	"github.com/coreminer/kawpowd/stratum"
	"github.com/coreminer/kawpowd/validator"
)

// State is the orchestrator's process lifecycle, per spec.md §5's
// start/stop/pause resolution (an Open Question in the original spec,
// resolved here as a plain state machine rather than a typestate).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateMining
	StatePaused
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateMining:
		return "mining"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Stats mirrors the counters spec.md §7's error taxonomy expects the
// orchestrator to expose.
type Stats struct {
	SharesAccepted uint64
	SharesRejected uint64
}

// Orchestrator owns every long-lived engine component and the GPU worker
// goroutines that pull work and report results.
type Orchestrator struct {
	cfg *config.Config

	pool     *stratum.PoolManager
	queue    *jobqueue.Queue
	nonces   *noncemgr.Manager
	dist     *distributor.Distributor
	sched    *scheduler.Scheduler
	gpus     *gpu.Manager
	valid    *validator.Validator
	mon      *monitor.Monitor
	dagEng   *kawpow.DagEngine

	extraNonce1  string
	extraNonce2N uint64
	height       uint64

	stateMu sync.RWMutex
	state   State

	statsMu sync.Mutex
	stats   Stats

	pauseMu sync.Mutex
	pause   chan struct{}
	resume  chan struct{}

	log *log.Logger
}

// New constructs an Orchestrator from cfg, with numGPUs CPU reference
// backends registered (one per enabled GPU index).
func New(cfg *config.Config) (*Orchestrator, error) {
	valid, err := validator.New(validator.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("miner: %w", err)
	}

	nonces := noncemgr.New(noncemgr.DefaultConfig())
	valid.SetNonceOracle(nonces)

	gpus := gpu.NewManager()
	enabled := cfg.GPUs.Enabled
	if len(enabled) == 0 {
		enabled = []int{0}
	}
	for _, idx := range enabled {
		gpus.RegisterBackend(gpu.NewCPUBackend(idx, fmt.Sprintf("cpu-reference-%d", idx)))
	}
	numGPUs := gpus.DeviceCount()

	o := &Orchestrator{
		cfg:    cfg,
		pool:   stratum.NewPoolManager(poolManagerConfig(cfg)),
		queue:  jobqueue.New(jobqueue.DefaultConfig()),
		nonces: nonces,
		dist:   distributor.New(distributor.DefaultConfig(), numGPUs, nonces),
		sched:  scheduler.New(scheduler.DefaultConfig(), numGPUs),
		gpus:   gpus,
		valid:  valid,
		mon:    monitor.New(monitor.DefaultConfig()),
		dagEng: kawpow.NewDagEngine(false),
		pause:  make(chan struct{}),
		resume: make(chan struct{}),
		log:    log.Root().With("component", "orchestrator"),
	}
	return o, nil
}

func poolManagerConfig(cfg *config.Config) stratum.PoolManagerConfig {
	endpoints := make([]stratum.EndpointConfig, 0, len(cfg.Endpoints()))
	for _, p := range cfg.Endpoints() {
		ep := stratum.EndpointConfig{
			Name:     p.Name,
			Addr:     p.Host(),
			Priority: p.Priority,
			Weight:   p.Weight,
			Enabled:  true,
		}
		switch p.Scheme() {
		case "stratum+ws":
			ep.Addr = "ws://" + p.Host()
			ep.Dialer = stratum.WSDialer
		case "stratum+wss":
			ep.Addr = "wss://" + p.Host()
			ep.Dialer = stratum.WSDialer
		}
		endpoints = append(endpoints, ep)
	}
	return stratum.PoolManagerConfig{
		Endpoints:       endpoints,
		Strategy:        stratum.FailoverPriority,
		SessionDefaults: stratum.DefaultSessionConfig(""),
	}
}

func (o *Orchestrator) setState(st State) {
	o.stateMu.Lock()
	o.state = st
	o.stateMu.Unlock()
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Start connects to a pool, subscribes and authorizes, then runs the
// per-GPU worker goroutines and the job notification loop until ctx is
// canceled or Stop is called. It mirrors the teacher's seal-loop
// structure: one goroutine per device plus a supervising errgroup,
// instead of one abort channel shared flat across threads.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setState(StateConnecting)

	if err := o.pool.Connect(ctx); err != nil {
		o.setState(StateError)
		return fmt.Errorf("miner: NoPoolsAvailable: %w", err)
	}

	sess, _ := o.pool.Active()
	if err := o.subscribeAndAuthorize(sess); err != nil {
		o.setState(StateError)
		return err
	}

	o.setState(StateMining)
	o.log.Info("mining started", "devices", o.gpus.DeviceCount())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.notifyLoop(gctx, sess) })
	g.Go(func() error { return o.timeoutLoop(gctx) })

	for _, info := range o.gpus.DeviceInfo() {
		idx := info.Index
		g.Go(func() error { return o.gpuWorker(gctx, idx) })
	}

	err := g.Wait()
	o.setState(StateStopped)
	return err
}

// subscribeAndAuthorize performs the mining.subscribe/mining.authorize
// handshake, per S1's scenario.
func (o *Orchestrator) subscribeAndAuthorize(sess *stratum.Session) error {
	if sess == nil {
		return fmt.Errorf("miner: no active pool session")
	}

	subResp, err := sess.SendRequest(stratum.NewSubscribeRequest(sess.NextRequestID(), "kawpowd/1.0", uuid.New()))
	if err != nil || subResp.Error != nil {
		return fmt.Errorf("miner: subscribe failed: %v / %v", err, subResp)
	}
	sub, err := stratum.ParseSubscribeResult(subResp.Result)
	if err != nil {
		return fmt.Errorf("miner: %w", err)
	}
	o.extraNonce1 = sub.ExtraNonce1

	pool := o.cfg.Pool
	authResp, err := sess.SendRequest(stratum.NewAuthorizeRequest(sess.NextRequestID(), pool.Wallet, pool.Password))
	if err != nil || authResp.Error != nil {
		sess.SetAuthenticated(false)
		return fmt.Errorf("miner: AuthenticationFailed: %v / %v", err, authResp)
	}
	sess.SetAuthenticated(true)
	return nil
}

// notifyLoop consumes pool notifications (mining.notify, mining.set_difficulty)
// and feeds fresh jobs into the job queue.
func (o *Orchestrator) notifyLoop(ctx context.Context, sess *stratum.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note, ok := <-sess.Notifications():
			if !ok {
				return fmt.Errorf("miner: pool connection lost")
			}
			o.handleNotification(note)
		}
	}
}

func (o *Orchestrator) handleNotification(note stratum.Notification) {
	switch note.Method {
	case stratum.MethodNotify:
		job, err := stratum.ParseMiningJob(note.Params)
		if err != nil {
			o.log.Warn("failed to parse mining.notify", "err", err)
			return
		}
		o.height++
		header, err := stratum.BuildHeader(job, o.extraNonce1, o.extraNonce2(), o.height)
		if err != nil {
			o.log.Warn("failed to build header from job", "job", job.JobID, "err", err)
			return
		}
		target := types.TargetFromBits(header.Bits)

		if job.CleanJobs {
			o.valid.ClearHistory()
		}
		o.valid.RegisterJob(job.JobID)
		if o.queue.AddJob(job, header, target) {
			qj := o.queue.GetNextJob()
			if qj != nil {
				o.dist.UpdateJob(qj.Job, qj.Header, qj.Target)
			}
		}
	default:
		o.log.Debug("unhandled notification", "method", note.Method)
	}
}

func (o *Orchestrator) extraNonce2() string {
	o.statsMu.Lock()
	n := o.extraNonce2N
	o.extraNonce2N++
	o.statsMu.Unlock()
	return fmt.Sprintf("%08x", n)
}

// timeoutLoop periodically reclaims work units that ran past their
// deadline, counting them as stale per spec.md §5.
func (o *Orchestrator) timeoutLoop(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, wu := range o.dist.CheckTimeouts() {
				o.log.Debug("reclaimed stale work", "work_id", wu.ID, "gpu", wu.GPUIndex)
			}
		}
	}
}

// gpuWorker is the per-device loop: pull work, run the kernel, validate
// and submit any solution, report results back to the distributor.
func (o *Orchestrator) gpuWorker(ctx context.Context, gpuIndex int) error {
	backend, err := o.gpus.Device(gpuIndex)
	if err != nil {
		return fmt.Errorf("miner: KernelCompilationFailed: gpu %d: %w", gpuIndex, err)
	}
	defer backend.Close()

	for {
		pauseCh, resumeCh := o.pauseChannels()
		select {
		case <-ctx.Done():
			return nil
		case <-pauseCh:
			<-resumeCh
			continue
		default:
		}

		work, ok := o.dist.GetWork(gpuIndex)
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		epoch := kawpow.EpochOf(work.Header.Height)
		dag, err := o.dagEng.GetDag(epoch)
		if err != nil {
			o.log.Error("dag generation failed", "gpu", gpuIndex, "epoch", epoch, "err", err)
			continue
		}

		start := time.Now()
		var hashes uint64
		solution, err := backend.Search(ctx, dag, work, func(n uint64) { hashes += n })
		duration := time.Since(start)
		if err != nil {
			o.log.Debug("search aborted", "gpu", gpuIndex, "err", err)
			continue
		}

		effectiveHashrate := 0.0
		if duration > 0 {
			effectiveHashrate = float64(hashes) / duration.Seconds()
		}
		o.dist.SubmitResult(types.WorkResult{
			WorkID:            work.ID,
			GPUIndex:          gpuIndex,
			Solution:          solution,
			HashesComputed:    hashes,
			Duration:          duration,
			EffectiveHashrate: effectiveHashrate,
		})

		if solution != nil {
			o.handleSolution(*solution, work)
		}
	}
}

func (o *Orchestrator) handleSolution(result types.MiningResult, work types.WorkUnit) {
	verdict := o.valid.ValidateResult(result, work.Header, work.Target, work.JobID, work.GPUIndex)
	if verdict != validator.Valid {
		o.log.Debug("share not submitted", "job", work.JobID, "result", verdict)
		return
	}

	share := o.valid.CreateValidatedShare(result, work.JobID, work.GPUIndex,
		o.cfg.WorkerName, o.extraNonce2(), fmt.Sprintf("%08x", work.Header.Timestamp))

	sess, ok := o.pool.Active()
	if !ok {
		o.log.Warn("no active pool to submit share to")
		return
	}
	resp, err := o.pool.SendRequest(context.Background(), stratum.NewSubmitRequest(sess.NextRequestID(), share.Share))
	if err != nil || resp.Error != nil {
		o.statsMu.Lock()
		o.stats.SharesRejected++
		o.statsMu.Unlock()
		o.log.Warn("share rejected", "job", work.JobID, "err", err)
		return
	}

	o.statsMu.Lock()
	o.stats.SharesAccepted++
	o.statsMu.Unlock()
	o.log.Info("share accepted", "job", work.JobID, "difficulty", share.Difficulty)
}

func (o *Orchestrator) pauseChannels() (chan struct{}, chan struct{}) {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	return o.pause, o.resume
}

// Pause suspends every GPU worker at its next check, without tearing
// down the pool connection.
func (o *Orchestrator) Pause() {
	if o.State() != StateMining {
		return
	}
	o.setState(StatePaused)
	o.pauseMu.Lock()
	close(o.pause)
	o.pauseMu.Unlock()
}

// Resume wakes every paused GPU worker and arms a fresh pause channel
// for the next Pause call.
func (o *Orchestrator) Resume() {
	if o.State() != StatePaused {
		return
	}
	o.setState(StateMining)
	o.pauseMu.Lock()
	close(o.resume)
	o.pause = make(chan struct{})
	o.resume = make(chan struct{})
	o.pauseMu.Unlock()
}

// Stop disconnects from the pool and lets the worker goroutines observe
// ctx cancellation through the caller's errgroup context.
func (o *Orchestrator) Stop() {
	o.setState(StateStopping)
	o.pool.Disconnect()
	if err := o.gpus.Close(); err != nil {
		o.log.Warn("error closing gpu manager", "err", err)
	}
	if err := o.valid.Close(); err != nil {
		o.log.Warn("error closing validator", "err", err)
	}
}

// Stats returns accepted/rejected share counters.
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

// Monitor returns the aggregation/alerting component, for wiring an
// optional HTTP status surface.
func (o *Orchestrator) Monitor() *monitor.Monitor { return o.mon }

// ReportMetrics folds the distributor/scheduler's latest readings into
// the monitor; called periodically by the caller (e.g. a ticker in main).
func (o *Orchestrator) ReportMetrics() {
	stats := o.dist.GetStats()
	hashrates := make(map[int]float64, len(stats))
	var accepted, rejected uint64
	for idx, s := range stats {
		hashrates[idx] = s.CurrentHashrate
	}
	loads := o.sched.GetGPULoads()

	o.statsMu.Lock()
	accepted = o.stats.SharesAccepted
	rejected = o.stats.SharesRejected
	o.statsMu.Unlock()

	var unitsCompleted uint64
	for _, s := range stats {
		unitsCompleted += s.UnitsCompleted
	}

	o.mon.UpdateMetrics(hashrates, loads, accepted, rejected, unitsCompleted, 0)
}
