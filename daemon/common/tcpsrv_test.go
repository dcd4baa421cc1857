package common

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rspamd-go/protoengine/logx"
	"github.com/rspamd-go/protoengine/metrics"
)

type tcpTestApp struct {
	stats *metrics.Stats
}

func (app *tcpTestApp) GetConnectionStats() *metrics.Stats {
	return app.stats
}

func (app *tcpTestApp) HandleTCPConnection(logger logx.Logger, clientIP string, conn net.Conn) {
	if clientIP == "" {
		panic("client IP must not be empty")
	}
	if n, err := conn.Write([]byte("hello")); err != nil || n != 5 {
		log.Panicf("n %d err %v", n, err)
	}
}

func TestTCPServer(t *testing.T) {
	srv := TCPServer{
		ListenAddr:  "127.0.0.1",
		ListenPort:  62172,
		AppName:     "TestTCPServer",
		App:         &tcpTestApp{stats: metrics.NewStats()},
		LimitPerSec: 5,
	}
	srv.Initialise()

	serverStopped := make(chan struct{}, 1)
	go func() {
		if err := srv.StartAndBlock(); err != nil {
			t.Error(err)
			return
		}
		serverStopped <- struct{}{}
	}()
	var connected bool
	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", srv.ListenAddr, srv.ListenPort)); err == nil {
			connected = true
			_ = conn.Close()
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !connected {
		t.Fatal("server did not start in time")
	}

	// Connect to the server and expect a hello response
	client, err := net.Dial("tcp", fmt.Sprintf("%s:%d", srv.ListenAddr, srv.ListenPort))
	if err != nil {
		t.Fatal(err)
	}
	reader := bufio.NewReader(client)
	str, err := reader.ReadString(0)
	if err != io.EOF {
		t.Fatal(err)
	}
	if str != "hello" {
		t.Fatal(str)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	// Wait for connection to close and then check stats counter
	time.Sleep(ServerRateLimitIntervalSec * 2 * time.Second)
	if _, _, _, _, count := srv.App.GetConnectionStats().GetStats(); count < 1 {
		t.Fatal(count)
	}

	// Attempt to exceed the rate limit via connection attempts
	var success int
	for i := 0; i < 10; i++ {
		client, err := net.Dial("tcp", fmt.Sprintf("%s:%d", srv.ListenAddr, srv.ListenPort))
		if err != nil {
			t.Fatal(err)
		}
		reader := bufio.NewReader(client)
		str, _ := reader.ReadString(0)
		if str == "hello" {
			success++
		}
		time.Sleep(100 * time.Millisecond)
	}
	if success > srv.LimitPerSec*2 || success < srv.LimitPerSec/2 {
		t.Fatal(success)
	}

	// Attempt to exceed the rate limit via conversation
	time.Sleep(ServerRateLimitIntervalSec * 2 * time.Second)
	success = 0
	for i := 0; i < 10; i++ {
		if srv.AddAndCheckRateLimit("test") {
			success++
		}
	}
	if success > srv.LimitPerSec*2 || success < srv.LimitPerSec/2 {
		t.Fatal(success)
	}

	srv.Stop()
	<-serverStopped

	// It is OK to repeatedly shut down a server
	srv.Stop()
	srv.Stop()
}

// selfSignedCertForTest writes a throwaway self-signed certificate and key to dir, returning their paths.
func selfSignedCertForTest(t *testing.T, dir string) (certPath, keyPath string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatal(err)
	}
	_ = certOut.Close()

	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		t.Fatal(err)
	}
	_ = keyOut.Close()
	return certPath, keyPath
}

func TestTCPServer_TLS(t *testing.T) {
	certPath, keyPath := selfSignedCertForTest(t, t.TempDir())

	srv := NewTLSTCPServer("127.0.0.1", 62173, "TestTCPServerTLS", &tcpTestApp{stats: metrics.NewStats()}, 5, certPath, keyPath)

	serverStopped := make(chan struct{}, 1)
	go func() {
		if err := srv.StartAndBlock(); err != nil {
			t.Error(err)
			return
		}
		serverStopped <- struct{}{}
	}()
	defer func() {
		srv.Stop()
		<-serverStopped
	}()

	var conn *tls.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = tls.Dial("tcp", fmt.Sprintf("%s:%d", srv.ListenAddr, srv.ListenPort), &tls.Config{InsecureSkipVerify: true})
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	str, err := reader.ReadString(0)
	if err != io.EOF {
		t.Fatal(err)
	}
	if str != "hello" {
		t.Fatal(str)
	}
}
