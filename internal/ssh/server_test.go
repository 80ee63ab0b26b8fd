package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gssh "golang.org/x/crypto/ssh"
)

const (
	testUser     = "deploy"
	testPassword = "s3cret"
)

type reply struct {
	stdout, stderr string
	code           int
	delay          time.Duration
}

// fakeServer is an in-process SSH server that answers exec requests from a script.
type fakeServer struct {
	addr    string
	hostKey gssh.PublicKey

	mu            sync.Mutex
	authorizedKey gssh.PublicKey
	respond       func(cmd string) reply
	commands      []string

	handshakes  atomic.Int32
	active      atomic.Int32
	maxActive   atomic.Int32
	interrupted atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := gssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeServer{hostKey: hostSigner.PublicKey(), respond: func(string) reply { return reply{} }}

	cfg := &gssh.ServerConfig{
		PasswordCallback: func(c gssh.ConnMetadata, pass []byte) (*gssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c gssh.ConnMetadata, key gssh.PublicKey) (*gssh.Permissions, error) {
			fs.mu.Lock()
			ak := fs.authorizedKey
			fs.mu.Unlock()
			if ak != nil && bytes.Equal(ak.Marshal(), key.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	fs.addr = ln.Addr().String()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go fs.serve(nc, cfg)
		}
	}()
	return fs
}

func (fs *fakeServer) setReply(f func(cmd string) reply) {
	fs.mu.Lock()
	fs.respond = f
	fs.mu.Unlock()
}

func (fs *fakeServer) authorize(key gssh.PublicKey) {
	fs.mu.Lock()
	fs.authorizedKey = key
	fs.mu.Unlock()
}

func (fs *fakeServer) cmds() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.commands...)
}

func (fs *fakeServer) port() int {
	_, p, _ := net.SplitHostPort(fs.addr)
	n, _ := strconv.Atoi(p)
	return n
}

func (fs *fakeServer) serve(nc net.Conn, cfg *gssh.ServerConfig) {
	sconn, chans, reqs, err := gssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	fs.handshakes.Add(1)
	gone := make(chan struct{})
	go func() {
		_ = sconn.Wait()
		close(gone)
	}()
	go gssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(gssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go fs.session(ch, chReqs, gone)
	}
}

func (fs *fakeServer) session(ch gssh.Channel, reqs <-chan *gssh.Request, gone <-chan struct{}) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := gssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		fs.mu.Lock()
		fs.commands = append(fs.commands, payload.Command)
		r := fs.respond(payload.Command)
		fs.mu.Unlock()

		n := fs.active.Add(1)
		for {
			cur := fs.maxActive.Load()
			if n <= cur || fs.maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-gone:
				fs.active.Add(-1)
				fs.interrupted.Add(1)
				return
			}
		}
		fs.active.Add(-1)
		_, _ = io.WriteString(ch, r.stdout)
		_, _ = io.WriteString(ch.Stderr(), r.stderr)
		_, _ = ch.SendRequest("exit-status", false, gssh.Marshal(struct{ Status uint32 }{uint32(r.code)}))
		return
	}
}

// writeKey writes an ed25519 private key (optionally encrypted) and returns its path and public key.
func writeKey(t *testing.T, passphrase string) (string, gssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = gssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = gssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := gssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return path, sshPub
}
