package puma

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// A process-flavoured Buffer is always, underneath, the same in-process
// Buffer[T] the thread flavour uses (spec.md §4.2's semantics do not
// differ by flavour). What differs is that a process-flavoured Runnable
// runs in a different OS process than the Buffer's canonical instance, so
// every value crossing that boundary is relayed over a dedicated Unix
// domain socket: one broker per Buffer, created alongside it in the
// process that called CreateProcessBuffer, with a tiny length-prefixed gob wire
// format. Values must be gob-encodable, the serialisability precondition
// spec.md §4.6 requires of process-flavoured payloads.
//
// Wakeup itself is never sent over this wire: each process keeps its own
// in-process Wakeup, and the bridge goroutine on each end calls the local
// mirror Buffer's ordinary Publish/Subscribe, which signals that process's
// own Wakeup exactly as any other publisher would.

type transportRole byte

const (
	transportRolePublisher transportRole = iota
	transportRoleSubscriber
)

type wireKind byte

const (
	wireKindValue wireKind = iota
	wireKindComplete
)

type wireEnvelope struct {
	Kind    wireKind
	Payload []byte // gob-encoded T, empty for wireKindComplete with no error
	ErrMsg  string // non-empty iff wireKindComplete carried an error
}

func writeEnvelope(w *bufio.Writer, env wireEnvelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return err
	}
	body := buf.Bytes()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

func readEnvelope(r *bufio.Reader) (wireEnvelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return wireEnvelope{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return wireEnvelope{}, err
	}
	var env wireEnvelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return wireEnvelope{}, err
	}
	return env, nil
}

// gobEncode serialises v with encoding/gob, the codec used on the
// process-flavoured Buffer wire.
func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gobDecodeInto deserialises body into dst, which must be a pointer.
func gobDecodeInto(body []byte, dst any) error {
	return gob.NewDecoder(bytes.NewReader(body)).Decode(dst)
}

// bufferBroker owns the canonical Buffer[T]'s listening socket in the
// process where CreateProcessBuffer was called, accepting exactly one subscriber
// connection and any number of publisher connections over its lifetime.
type bufferBroker[T any] struct {
	buf      *Buffer[T]
	listener net.Listener
	sockPath string

	mu     sync.Mutex
	closed bool
}

// newBufferBroker starts listening on a fresh Unix domain socket in dir
// for buf, named after its ID.
func newBufferBroker[T any](buf *Buffer[T], dir string) (*bufferBroker[T], error) {
	sockPath := filepath.Join(dir, buf.ID()+".sock")
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, &TransportError{BufferID: buf.ID(), Cause: err}
	}
	br := &bufferBroker[T]{buf: buf, listener: ln, sockPath: sockPath}
	go br.acceptLoop()
	return br, nil
}

func (br *bufferBroker[T]) acceptLoop() {
	for {
		conn, err := br.listener.Accept()
		if err != nil {
			return
		}
		go br.handleConn(conn)
	}
}

func (br *bufferBroker[T]) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	var roleByte [1]byte
	if _, err := io.ReadFull(r, roleByte[:]); err != nil {
		return
	}
	role := transportRole(roleByte[0])

	switch role {
	case transportRolePublisher:
		br.relayInbound(r)
	case transportRoleSubscriber:
		br.relayOutbound(conn, r)
	}
}

// relayInbound reads values written by a remote publisher and republishes
// them into the canonical Buffer.
func (br *bufferBroker[T]) relayInbound(r *bufio.Reader) {
	pub := br.buf.Publish()
	defer pub.Release()
	for {
		env, err := readEnvelope(r)
		if err != nil {
			return
		}
		switch env.Kind {
		case wireKindValue:
			var v T
			if err := gobDecodeInto(env.Payload, &v); err != nil {
				return
			}
			if err := pub.PublishValue(v); err != nil {
				return
			}
		case wireKindComplete:
			var cause error
			if env.ErrMsg != "" {
				cause = fmt.Errorf("%s", env.ErrMsg)
			}
			_ = pub.PublishComplete(cause)
			return
		}
	}
}

// relayOutbound subscribes to the canonical Buffer and forwards every
// value to the remote subscriber. Only one subscriber connection is
// meaningful per Buffer (invariant I1 is still enforced by Buffer.Subscribe
// itself); a second subscriber connection will simply fail to subscribe
// and the connection is closed.
func (br *bufferBroker[T]) relayOutbound(conn net.Conn, r *bufio.Reader) {
	wakeup := NewThreadWakeup()
	sub, err := br.buf.Subscribe(wakeup)
	if err != nil {
		return
	}
	defer sub.Release()

	w := bufio.NewWriter(conn)
	for {
		wakeup.Wait(-1)
		wakeup.Consume()

		done := false
		drainErr := sub.CallEvents(HandlerFuncs[T]{
			Value: func(v T) error {
				body, err := gobEncode(v)
				if err != nil {
					return err
				}
				return writeEnvelope(w, wireEnvelope{Kind: wireKindValue, Payload: body})
			},
			Complete: func(err error) {
				done = true
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				_ = writeEnvelope(w, wireEnvelope{Kind: wireKindComplete, ErrMsg: msg})
			},
		})
		if drainErr != nil || done {
			return
		}
	}
}

func (br *bufferBroker[T]) close() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.closed {
		return nil
	}
	br.closed = true
	err := br.listener.Close()
	_ = os.Remove(br.sockPath)
	return err
}

// connectRemoteBuffer is called from a child process: it dials the broker
// at sockPath, declares role, and returns a local mirror Buffer[T] kept in
// sync with the canonical one over the connection. capacity/grace mirror
// the canonical buffer's own, since the mirror enforces backpressure
// identically on this side of the wire.
func connectRemoteBuffer[T any](sockPath string, role transportRole, capacity int) (*Buffer[T], error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, &TransportError{BufferID: sockPath, Cause: err}
	}

	if _, err := conn.Write([]byte{byte(role)}); err != nil {
		conn.Close()
		return nil, &TransportError{BufferID: sockPath, Cause: err}
	}

	mirror := NewBuffer[T](capacity, defaultProcessDiscardGrace)

	switch role {
	case transportRolePublisher:
		// The local Runnable publishes into `mirror`; a pump goroutine
		// drains it and writes each value out the wire to the broker's
		// inbound relay.
		go pumpOutbound(mirror, conn)
	case transportRoleSubscriber:
		// A pump goroutine reads values the broker's outbound relay
		// wrote and republishes them into `mirror`, which the local
		// Runnable subscribes to exactly as it would a local Buffer.
		go pumpInbound(mirror, conn)
	}

	return mirror, nil
}

func pumpOutbound[T any](mirror *Buffer[T], conn net.Conn) {
	defer conn.Close()
	wakeup := NewThreadWakeup()
	sub, err := mirror.Subscribe(wakeup)
	if err != nil {
		return
	}
	defer sub.Release()

	w := bufio.NewWriter(conn)
	for {
		wakeup.Wait(-1)
		wakeup.Consume()

		done := false
		drainErr := sub.CallEvents(HandlerFuncs[T]{
			Value: func(v T) error {
				body, err := gobEncode(v)
				if err != nil {
					return err
				}
				return writeEnvelope(w, wireEnvelope{Kind: wireKindValue, Payload: body})
			},
			Complete: func(err error) {
				done = true
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				_ = writeEnvelope(w, wireEnvelope{Kind: wireKindComplete, ErrMsg: msg})
			},
		})
		if drainErr != nil || done {
			return
		}
	}
}

func pumpInbound[T any](mirror *Buffer[T], conn net.Conn) {
	defer conn.Close()
	pub := mirror.Publish()
	defer pub.Release()

	r := bufio.NewReader(conn)
	for {
		env, err := readEnvelope(r)
		if err != nil {
			return
		}
		switch env.Kind {
		case wireKindValue:
			var v T
			if err := gobDecodeInto(env.Payload, &v); err != nil {
				return
			}
			if err := pub.PublishValue(v); err != nil {
				return
			}
		case wireKindComplete:
			var cause error
			if env.ErrMsg != "" {
				cause = fmt.Errorf("%s", env.ErrMsg)
			}
			_ = pub.PublishComplete(cause)
			return
		}
	}
}
