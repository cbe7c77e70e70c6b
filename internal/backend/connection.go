package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/dsatori/syncrypt/internal/bundle"
	"github.com/dsatori/syncrypt/internal/pipe"
	"github.com/dsatori/syncrypt/internal/syncerr"
)

var connCodec codec.MsgpackHandle

// Connection is one TCP link to a Syncrypt server, speaking the
// line-oriented framed protocol of spec.md §4.3. Grounded on
// BinaryStorageConnection: connect/disconnect, stat/upload/download/wipe.
type Connection struct {
	host, auth, username, password string
	port                            int
	bufSize                         int

	conn          net.Conn
	reader        *bufio.Reader
	writer        *bufio.Writer
	serverVersion string

	connected  bool
	connecting bool
	inUse      bool
}

// NewConnection builds an unconnected Connection slot.
func NewConnection(host string, port int, username, password, auth string) *Connection {
	return &Connection{
		host:     host,
		port:     port,
		username: username,
		password: password,
		auth:     auth,
		bufSize:  10 * 1024,
	}
}

// Connect dials the server, reads the greeting, and authenticates either
// via a stored token (AUTH) or username/password (LOGIN); on success it
// caches the returned token for future Connect calls.
func (c *Connection) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.Connection.Connect", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)

	greeting, err := readLine(c.reader)
	if err != nil {
		c.conn.Close()
		return err
	}
	parts := strings.SplitN(greeting, " ", 2)
	if len(parts) == 2 {
		c.serverVersion = parts[1]
	}

	if c.auth != "" {
		if err := writeLine(c.writer, "AUTH:"+c.auth); err != nil {
			c.conn.Close()
			return err
		}
		line, err := readLine(c.reader)
		if err != nil {
			c.conn.Close()
			return err
		}
		if line != "SUCCESS" {
			c.conn.Close()
			return syncerr.New(syncerr.KindInvalidAuth, "backend.Connection.Connect", fmt.Errorf("%s", line))
		}
	} else {
		if err := writeLine(c.writer, fmt.Sprintf("LOGIN:%s:%s:vault-id", c.username, c.password)); err != nil {
			c.conn.Close()
			return err
		}
		line, err := readLine(c.reader)
		if err != nil {
			c.conn.Close()
			return err
		}
		token := strings.SplitN(line, ":", 2)[0]
		if token == "" || strings.HasPrefix(line, "ERROR") {
			c.conn.Close()
			return syncerr.New(syncerr.KindInvalidAuth, "backend.Connection.Connect", fmt.Errorf("%s", line))
		}
		c.auth = token
	}

	c.connected = true
	c.connecting = false
	slog.Debug("connection established", "host", c.host, "port", c.port, "server_version", c.serverVersion)
	return nil
}

// Disconnect sends DISCONNECT (best-effort) and closes the socket.
func (c *Connection) Disconnect() error {
	if c.writer != nil {
		writeLine(c.writer, "DISCONNECT")
	}
	c.connected = false
	c.connecting = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Stat issues STAT:<store_hash> and returns the decoded object map, or nil
// if the server reports the object absent.
func (c *Connection) Stat(b *bundle.Bundle) (map[string]interface{}, error) {
	if err := writeLine(c.writer, "STAT:"+b.StoreHash); err != nil {
		return nil, err
	}
	line, err := readLine(c.reader)
	if err != nil {
		return nil, err
	}
	byteCount, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return nil, nil // non-numeric line means "absent"
	}

	payload := make([]byte, byteCount)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "backend.Connection.Stat", err)
	}

	var m map[string]interface{}
	dec := codec.NewDecoder(bytes.NewReader(payload), &connCodec)
	if err := dec.Decode(&m); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "backend.Connection.Stat", err)
	}
	return m, nil
}

// Upload issues UPLOAD:... then streams the wrapped key file followed by
// the bundle's encrypted body.
func (c *Connection) Upload(b *bundle.Bundle) error {
	cmd := fmt.Sprintf("UPLOAD:%s:%d:%d:%s", b.StoreHash, b.KeySizeCrypt, b.FileSizeCrypt, b.CryptHash)
	if err := writeLine(c.writer, cmd); err != nil {
		return err
	}
	line, err := readLine(c.reader)
	if err != nil {
		return err
	}
	if line != "WAITING" {
		return syncerr.New(syncerr.KindProtocolError, "backend.Connection.Upload", fmt.Errorf("%s", line))
	}

	keyFile, err := os.Open(b.PathKey())
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.Connection.Upload", err)
	}
	defer keyFile.Close()
	if err := c.copyExactly(keyFile, int64(b.KeySizeCrypt)); err != nil {
		return err
	}

	body, err := b.ReadEncryptedStream()
	if err != nil {
		return err
	}
	if err := c.copyExactly(body, b.FileSizeCrypt); err != nil {
		body.Finalize()
		return err
	}
	if err := body.Finalize(); err != nil {
		return err
	}

	if err := c.writer.Flush(); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.Connection.Upload", err)
	}
	line, err = readLine(c.reader)
	if err != nil {
		return err
	}
	if line != "SUCCESS" {
		return syncerr.New(syncerr.KindProtocolError, "backend.Connection.Upload", fmt.Errorf("%s", line))
	}
	return nil
}

func (c *Connection) copyExactly(src io.Reader, n int64) error {
	written, err := io.CopyN(c.writer, src, n)
	if err != nil && err != io.EOF {
		return syncerr.New(syncerr.KindIOError, "backend.Connection.copyExactly", err)
	}
	if written != n {
		return syncerr.New(syncerr.KindProtocolError, "backend.Connection.copyExactly", fmt.Errorf("wrote %d bytes, wanted %d", written, n))
	}
	return nil
}

// Download issues DOWNLOAD:<store_hash>, writes the wrapped key to
// b.PathKey(), and decrypts the declared-length body directly into the
// bundle's plaintext path via b.WriteEncryptedStream, verifying against
// assertHash when non-empty.
func (c *Connection) Download(b *bundle.Bundle, assertHash string) (bool, error) {
	if err := writeLine(c.writer, "DOWNLOAD:"+b.StoreHash); err != nil {
		return false, err
	}
	keySize, err := readDecimal(c.reader)
	if err != nil {
		return false, err
	}
	fileSize, err := readDecimal(c.reader)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(b.PathKey()), 0755); err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.Connection.Download", err)
	}
	keyFile, err := os.Create(b.PathKey())
	if err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.Connection.Download", err)
	}
	if _, err := io.CopyN(keyFile, c.reader, keySize); err != nil {
		keyFile.Close()
		return false, syncerr.New(syncerr.KindIOError, "backend.Connection.Download", err)
	}
	keyFile.Close()

	if err := b.LoadKey(); err != nil {
		return false, err
	}

	bodyPipe := pipe.NewFromReader(io.LimitReader(c.reader, fileSize))
	return b.WriteEncryptedStream(bodyPipe, assertHash)
}

// Wipe issues WIPE-VAULT.
func (c *Connection) Wipe() error {
	if err := writeLine(c.writer, "WIPE-VAULT"); err != nil {
		return err
	}
	line, err := readLine(c.reader)
	if err != nil {
		return err
	}
	if line != "SUCCESS" {
		return syncerr.New(syncerr.KindProtocolError, "backend.Connection.Wipe", fmt.Errorf("%s", line))
	}
	return nil
}

// Token returns the auth token this connection obtained via LOGIN (or was
// constructed with), for the caller to persist into Config.
func (c *Connection) Token() string { return c.auth }
