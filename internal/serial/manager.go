// Package serial owns the physical connection to the field sensor: port
// discovery, connect and reconnect, the line-oriented read loop, actuation
// command writes, and the externally observable connection status.
package serial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	goserial "github.com/tarm/goserial"
	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/metrics"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

var errNoPorts = errors.New("no serial ports detected")

// Processor consumes one successfully parsed telemetry object. Called
// synchronously from the listen loop; slow processing delays the next read,
// which is the intended throttle.
type Processor interface {
	Process(raw types.RawPayload) types.DecisionOutcome
}

// Manager holds the sensor serial connection along with its status. A single
// dedicated goroutine owns all serial I/O; every other accessor only reads
// status snapshots or enqueues best-effort writes.
type Manager struct {
	ctx       context.Context
	wg        *sync.WaitGroup
	cfg       config.SerialData
	processor Processor
	logger    *zap.SugaredLogger

	statusMu sync.Mutex
	status   types.ConnectionStatus

	portMu sync.Mutex
	port   io.ReadWriteCloser

	// openPort is swapped out by tests to avoid real hardware.
	openPort func(c *goserial.Config) (io.ReadWriteCloser, error)
}

// NewManager creates a serial transport manager.
func NewManager(ctx context.Context, wg *sync.WaitGroup, cfg config.SerialData, processor Processor, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		ctx:       ctx,
		wg:        wg,
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		status: types.ConnectionStatus{
			State:    types.StateDisconnected,
			BaudRate: cfg.Baud,
		},
		openPort: goserial.OpenPort,
	}
}

// Start launches the listener goroutine.
func (m *Manager) Start() {
	log.Info("starting serial listener...")
	m.wg.Add(1)
	go m.listen()
}

// Status returns an immutable snapshot of the connection status.
func (m *Manager) Status() types.ConnectionStatus {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	snapshot := m.status
	if m.status.LastSample != nil {
		s := *m.status.LastSample
		snapshot.LastSample = &s
	}
	if m.status.LastConnectedAt != nil {
		t := *m.status.LastConnectedAt
		snapshot.LastConnectedAt = &t
	}
	return snapshot
}

func (m *Manager) setStatus(update func(s *types.ConnectionStatus)) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	update(&m.status)
}

// SendCommand writes a newline-terminated command to the device. Best-effort:
// with no connection available the command is silently dropped, and a write
// failure is recorded in status without disturbing the listen loop.
func (m *Manager) SendCommand(command string) {
	m.portMu.Lock()
	port := m.port
	m.portMu.Unlock()

	if port == nil {
		m.logger.Debugf("no serial connection, dropping command %q", command)
		return
	}

	if _, err := port.Write([]byte(command + "\n")); err != nil {
		metrics.SerialWriteFailures.Inc()
		m.logger.Errorf("serial write failed: %v", err)
		m.setStatus(func(s *types.ConnectionStatus) {
			s.LastError = err.Error()
		})
		return
	}
	m.logger.Debugf("sent command %q", command)
}

// listen runs the connect/read/reconnect loop until the context is
// cancelled. Transport failures are never fatal: they drive the status back
// to disconnected and the loop retries at a fixed interval, unbounded.
func (m *Manager) listen() {
	defer m.wg.Done()

	retry := time.Duration(m.cfg.ConnectRetrySeconds * float64(time.Second))

	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return
		default:
		}

		port, err := m.connect()
		if err != nil {
			m.logger.Errorf("serial connect failed: %v", err)
			if !m.sleep(retry) {
				m.shutdown()
				return
			}
			continue
		}

		m.logger.Info("serial listening")
		m.setStatus(func(s *types.ConnectionStatus) {
			s.State = types.StateListening
		})

		err = m.readLines(port)
		m.disconnect(err)
		if err == nil {
			// Stop was requested mid-listen.
			m.shutdown()
			return
		}
		metrics.SerialReconnects.Inc()
		if !m.sleep(retry) {
			m.shutdown()
			return
		}
	}
}

// connect resolves a port, performs the best-effort reset toggle, and opens
// the device at the configured baud rate.
func (m *Manager) connect() (io.ReadWriteCloser, error) {
	device := m.cfg.Port
	if device == "" {
		device = autodetectPort(ListAvailablePorts(), m.cfg.DetectKeywords)
		if device == "" {
			m.setStatus(func(s *types.ConnectionStatus) {
				s.State = types.StateDisconnected
				s.Connected = false
				s.LastError = "no serial ports detected"
			})
			return nil, errNoPorts
		}
		m.logger.Infof("auto-detected serial port %s", device)
	}

	m.setStatus(func(s *types.ConnectionStatus) {
		s.State = types.StateConnecting
		s.Port = device
	})

	// Not all adapters support modem control lines; a failed toggle is
	// logged and ignored.
	if err := toggleReset(device); err != nil {
		m.logger.Debugf("reset toggle on %s failed (ignored): %v", device, err)
	}

	readTimeout := time.Duration(m.cfg.ReadTimeoutSeconds * float64(time.Second))
	port, err := m.openPort(&goserial.Config{
		Name:        device,
		Baud:        m.cfg.Baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		m.setStatus(func(s *types.ConnectionStatus) {
			s.State = types.StateDisconnected
			s.Connected = false
			s.LastError = err.Error()
		})
		return nil, err
	}

	m.portMu.Lock()
	m.port = port
	m.portMu.Unlock()

	now := time.Now()
	m.setStatus(func(s *types.ConnectionStatus) {
		s.State = types.StateConnected
		s.Connected = true
		s.Port = device
		s.LastError = ""
		s.LastConnectedAt = &now
	})
	m.logger.Infof("serial connected port=%s baud=%d", device, m.cfg.Baud)

	return port, nil
}

// readLines reads the port one line at a time until a read error or a stop
// request. Returns nil on stop, the read error otherwise.
func (m *Manager) readLines(port io.ReadWriteCloser) error {
	var pending []byte
	buf := make([]byte, 256)

	for {
		select {
		case <-m.ctx.Done():
			return nil
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := string(bytes.TrimSpace(pending[:idx]))
				pending = pending[idx+1:]
				if line != "" {
					m.handleLine(line)
				}
			}
			continue
		}
		if err == nil || err == io.EOF {
			// Bounded read timeout with no data; loop back so a stop
			// request is observed within one timeout interval.
			continue
		}
		return err
	}
}

// handleLine records the raw line, parses it when it is a JSON object, and
// hands the result to the decision pipeline in-line on the listener
// goroutine. Malformed and non-JSON lines are skipped silently.
func (m *Manager) handleLine(line string) {
	metrics.SerialLinesReceived.Inc()
	m.setStatus(func(s *types.ConnectionStatus) {
		s.LastLine = line
	})

	if !jsonDelimited(line) {
		return
	}

	var raw types.RawPayload
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return
	}

	outcome := m.processor.Process(raw)
	m.setStatus(func(s *types.ConnectionStatus) {
		sample := outcome.Sample
		s.LastSample = &sample
	})
}

// jsonDelimited reports whether a trimmed line is syntactically bounded by
// braces; only such lines are offered to the JSON decoder.
func jsonDelimited(line string) bool {
	return len(line) >= 2 && line[0] == '{' && line[len(line)-1] == '}'
}

// disconnect tears down the current connection and records why.
func (m *Manager) disconnect(err error) {
	m.portMu.Lock()
	if m.port != nil {
		m.port.Close()
		m.port = nil
	}
	m.portMu.Unlock()

	m.setStatus(func(s *types.ConnectionStatus) {
		s.State = types.StateDisconnected
		s.Connected = false
		if err != nil {
			s.LastError = err.Error()
		}
	})
	if err != nil {
		m.logger.Errorf("serial read loop failed: %v", err)
	}
}

// shutdown closes the connection and marks the terminal state.
func (m *Manager) shutdown() {
	m.disconnect(nil)
	m.setStatus(func(s *types.ConnectionStatus) {
		s.State = types.StateStopped
	})
	log.Info("serial listener stopped")
}

// sleep waits for the retry interval, returning false if cancelled.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
