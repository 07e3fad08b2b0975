// Package ipc is the composition root tying the port registry, message
// framing, helper loop, and broadcast router into the public operations
// named by the specification: InitPorts, InitHelper, ExitWithHelper, and
// TerminateHelper, matching the original's create_ipc_helper family at
// the process level rather than the per-port level internal/port and
// internal/helper operate at.
package ipc

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/broadcast"
	"github.com/liboscore/shim/internal/config"
	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/helper"
	"github.com/liboscore/shim/internal/metrics"
	"github.com/liboscore/shim/internal/namespacedir"
	"github.com/liboscore/shim/internal/pal/tcpstream"
	"github.com/liboscore/shim/internal/port"
)

// Manager owns every subsystem a running process needs to participate in
// the IPC mesh: the registry, the dispatcher, the helper loop, the
// broadcast router, and the namespace-leader directory client.
type Manager struct {
	SelfID uint64

	Registry   *port.Registry
	Dispatcher *framing.Dispatcher
	Helper     *helper.Helper
	Broadcast  *broadcast.Router
	NSDir      *namespacedir.Client
	Metrics    *metrics.Metrics

	log *zap.Logger
	seq atomic.Uint64
}

// New builds a Manager for selfID (this process's own vmid), wiring the
// namespace directory client from cfg and registering no callbacks yet —
// callers add their own with Dispatcher.Register before InitHelper.
func New(selfID uint64, cfg *config.Config, log *zap.Logger) *Manager {
	m := &Manager{
		SelfID:   selfID,
		Registry: port.NewRegistry(),
		Metrics:  metrics.New(),
		log:      log,
	}
	m.Dispatcher = framing.NewDispatcher(selfID, log, true)
	m.Helper = helper.New(m.Registry, m.Dispatcher, log, m.Metrics)
	m.Broadcast = broadcast.New(m.Registry, m.Dispatcher, log, m.Metrics)
	m.NSDir = namespacedir.New(namespacedir.Config{
		BaseURL:  cfg.NamespaceDir.BaseURL,
		RetryMax: cfg.NamespaceDir.RetryMax,
	}, log)
	return m
}

// InitPorts opens listenURI as this process's inbound server port and
// admits it into the registry with RoleServer|RoleIfPoll, matching the
// original's init_ns_ipc_ports binding a listening socket before the
// helper starts polling it.
func (m *Manager) InitPorts(ctx context.Context, listenURI string) (*port.Port, error) {
	listener, err := tcpstream.Listen(listenURI)
	if err != nil {
		return nil, fmt.Errorf("ipc: init ports: %w", err)
	}
	p, _ := m.Registry.AdmitByHandle(0, listener, port.RoleServer|port.RoleIfPoll, nil)
	m.log.Info("listening for ipc connections", zap.String("uri", listenURI), zap.String("trace_id", p.TraceID.String()))
	return p, nil
}

// Connect opens a new outbound stream to uri and admits it under peerID
// with role, matching add_ipc_port's outbound-connect path.
func (m *Manager) Connect(ctx context.Context, uri string, peerID uint64, role port.Role) (*port.Port, error) {
	stream, err := tcpstream.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect %s: %w", uri, err)
	}
	p, needRestart := m.Registry.AdmitByHandle(peerID, stream, role, nil)
	m.Metrics.RecordAdmit()
	if needRestart {
		m.Helper.RequestRestart(ctx, true)
	}
	return p, nil
}

// ResolveLeader asks the namespace directory for ns's current leader and
// connects to it, admitting the resulting port with the role that marks
// it as that namespace's leader (RolePIDLdr or RoleSYSVLdr), matching the
// original's IPC_FORCE_RECONNECT reconnect-by-URI path.
func (m *Manager) ResolveLeader(ctx context.Context, ns namespacedir.Namespace, peerID uint64) (*port.Port, error) {
	uri, err := m.NSDir.Resolve(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolve %s leader: %w", ns, err)
	}
	role := port.RoleDirPrt
	switch ns {
	case namespacedir.NamespacePID:
		role = port.RolePIDLdr
	case namespacedir.NamespaceSYSV:
		role = port.RoleSYSVLdr
	}
	return m.Connect(ctx, uri, peerID, role|port.RoleIfPoll)
}

// InitHelper starts the helper loop if one was requested before this
// process finished initializing, matching init_ipc_helper.
func (m *Manager) InitHelper(ctx context.Context) error {
	return m.Helper.InitHelper(ctx)
}

// ExitWithHelper requests the helper loop stop, optionally handing this
// process's keepalive obligations over to it, matching
// exit_with_ipc_helper.
func (m *Manager) ExitWithHelper(ctx context.Context, handover bool) error {
	return m.Helper.ExitWithHelper(ctx, handover)
}

// TerminateHelper forces the helper loop to stop regardless of keepalive
// state and waits for it to exit, matching terminate_ipc_helper.
func (m *Manager) TerminateHelper() error {
	if err := m.Helper.Terminate(); err != nil {
		return err
	}
	m.Helper.Wait()
	return nil
}

// NextSeq allocates a fresh, process-unique message sequence number.
func (m *Manager) NextSeq() uint64 { return m.seq.Add(1) }
