// Package quic carries the DLMS wrapper over one bidirectional QUIC stream per connection.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/tcp"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// NextProto is the ALPN both ends agree on.
const NextProto = "dlms-wrapper"

// conn is the stream of one connection, closing it ends the connection.
type conn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *conn) Close() error {
	c.Stream.CancelRead(0)
	_ = c.Stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

func config(idle time.Duration) *quic.Config {
	return &quic.Config{MaxIdleTimeout: idle, KeepAlivePeriod: idle / 2}
}

// New is a client stream to address, timeout bounds the handshake and every single read or write.
func New(address string, tlsConf *tls.Config, timeout time.Duration) base.Stream {
	return tcp.NewStream(address, func(timeout time.Duration) (tcp.Conn, error) {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		qc, err := quic.DialAddr(ctx, address, tlsConf, config(0))
		if err != nil {
			return nil, err
		}
		s, err := qc.OpenStreamSync(ctx)
		if err != nil {
			_ = qc.CloseWithError(0, "no stream")
			return nil, fmt.Errorf("open stream: %w", err)
		}
		return &conn{Stream: s, conn: qc}, nil
	}, timeout)
}

// Serve accepts connections on address and runs handle on the first stream of each of them. It
// returns once ctx is done and every connection ended.
func Serve(ctx context.Context, address string, tlsConf *tls.Config, idle time.Duration, handle tcp.Handler, logger *zap.SugaredLogger) error {
	ln, err := quic.ListenAddr(address, tlsConf, config(idle))
	if err != nil {
		return fmt.Errorf("quic listen on %s: %w", address, err)
	}
	defer ln.Close()
	if logger != nil {
		logger.Infof("quic listening on %s", ln.Addr())
	}

	var active sync.WaitGroup
	defer active.Wait()
	for {
		qc, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return ctx.Err()
			}
			return err
		}
		active.Add(1)
		go func() {
			defer active.Done()
			s, err := qc.AcceptStream(ctx)
			if err != nil {
				_ = qc.CloseWithError(0, "no stream")
				return
			}
			c := &conn{Stream: s, conn: qc}
			defer c.Close()
			if logger != nil {
				logger.Infof("quic connection from %s", qc.RemoteAddr())
			}
			if err = handle(ctx, c); err != nil && logger != nil {
				logger.Warnf("quic connection from %s ended: %v", qc.RemoteAddr(), err)
			}
		}()
	}
}

// SelfSigned is a server TLS config with a fresh self signed certificate, for test setups.
func SelfSigned() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{NextProto}}, nil
}

// Insecure is the client TLS config matching SelfSigned.
func Insecure() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{NextProto}}
}
