package control

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/scgolang/osc"
)

// OSC addresses served by OSCServer.
const (
	AddrTrigger     = "/pad/trigger"
	AddrPadStop     = "/pad/stop"
	AddrStopAll     = "/stop"
	AddrRecordStart = "/record/start"
	AddrRecordStop  = "/record/stop"
	AddrLoopPlay    = "/loop/play"
	AddrLoopStop    = "/loop/stop"
	AddrLoopRepeat  = "/loop/repeat"
)

// OSCServer drives the engine from OSC messages. Pads are addressed by id
// (string) or grid index (int), loops by id or list index.
type OSCServer struct {
	engine Engine
}

// NewOSCServer creates an OSC control server.
func NewOSCServer(e Engine) *OSCServer {
	return &OSCServer{engine: e}
}

func (s *OSCServer) dispatcher() osc.PatternMatching {
	return osc.PatternMatching{
		AddrTrigger:     osc.Method(s.handleTrigger),
		AddrPadStop:     osc.Method(s.handlePadStop),
		AddrStopAll:     osc.Method(s.handleStopAll),
		AddrRecordStart: osc.Method(s.handleRecordStart),
		AddrRecordStop:  osc.Method(s.handleRecordStop),
		AddrLoopPlay:    osc.Method(s.handleLoopPlay),
		AddrLoopStop:    osc.Method(s.handleLoopStop),
		AddrLoopRepeat:  osc.Method(s.handleLoopRepeat),
	}
}

// Serve listens on addr until ctx is cancelled.
func (s *OSCServer) Serve(ctx context.Context, addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve osc address: %w", err)
	}
	conn, err := osc.ListenUDPContext(ctx, "udp", laddr)
	if err != nil {
		return fmt.Errorf("listen osc: %w", err)
	}
	log.Printf("OSC control listening on %s", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if err := conn.Serve(2, s.dispatcher()); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve osc: %w", err)
	}
	return nil
}

// padArg resolves the first argument to a pad id.
func (s *OSCServer) padArg(m osc.Message) (string, error) {
	if len(m.Arguments) != 1 {
		return "", fmt.Errorf("%s: expected 1 argument, got %d", m.Address, len(m.Arguments))
	}
	if id, err := m.Arguments[0].ReadString(); err == nil {
		return id, nil
	}
	idx, err := m.Arguments[0].ReadInt32()
	if err != nil {
		return "", fmt.Errorf("%s: pad must be a string id or int index", m.Address)
	}
	id, ok := s.engine.PadAt(int(idx))
	if !ok {
		return "", fmt.Errorf("%s: no pad at index %d", m.Address, idx)
	}
	return id, nil
}

func (s *OSCServer) handleTrigger(m osc.Message) error {
	padID, err := s.padArg(m)
	if err != nil {
		return err
	}
	_, err = s.engine.Trigger(padID)
	return err
}

func (s *OSCServer) handlePadStop(m osc.Message) error {
	padID, err := s.padArg(m)
	if err != nil {
		return err
	}
	return s.engine.Stop(padID)
}

func (s *OSCServer) handleStopAll(osc.Message) error {
	s.engine.StopAll()
	return nil
}

func (s *OSCServer) handleRecordStart(osc.Message) error {
	return s.engine.StartRecording()
}

func (s *OSCServer) handleRecordStop(osc.Message) error {
	res, err := s.engine.StopRecording()
	if err != nil {
		return err
	}
	log.Printf("OSC: recorded %s (%d events)", res.Loop.Name, res.Events)
	return nil
}

func (s *OSCServer) handleLoopPlay(m osc.Message) error {
	if len(m.Arguments) != 1 {
		return fmt.Errorf("%s: expected 1 argument, got %d", m.Address, len(m.Arguments))
	}
	if id, err := m.Arguments[0].ReadString(); err == nil {
		return s.engine.PlayLoop(id)
	}
	idx, err := m.Arguments[0].ReadInt32()
	if err != nil {
		return fmt.Errorf("%s: loop must be a string id or int index", m.Address)
	}
	loops := s.engine.Loops()
	if idx < 0 || int(idx) >= len(loops) {
		return fmt.Errorf("%s: no loop at index %d", m.Address, idx)
	}
	return s.engine.PlayLoop(loops[idx].ID)
}

func (s *OSCServer) handleLoopStop(osc.Message) error {
	s.engine.StopLoop()
	return nil
}

func (s *OSCServer) handleLoopRepeat(osc.Message) error {
	log.Printf("OSC: repeat %v", s.engine.ToggleRepeat())
	return nil
}
