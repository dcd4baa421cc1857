package common

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rspamd-go/protoengine/logx"
	"github.com/rspamd-go/protoengine/metrics"
	"github.com/rspamd-go/protoengine/procsup"
)

const (
	// ServerRateLimitIntervalSec is the interval at which client rate limit counter operates, i.e. maximum N clients per interval of X.
	ServerRateLimitIntervalSec = 1
	/*
		ServerDefaultIOTimeoutSec is the default IO timeout applied to all client connections. The IO timeout prevents a
		potentially malfunctioning server application from hanging at a lingering client.
		Server application should always override the default IO timeout by setting a new timeout in connection handler.
	*/
	ServerDefaultIOTimeoutSec = 10 * 60
)

// TCPApp defines routines for a TCP server application to accept, process, and interact with client connections.
type TCPApp interface {
	// GetConnectionStats returns the stats collector that counts and times client connections for the TCP application.
	GetConnectionStats() *metrics.Stats
	// HandleTCPConnection converses with the client. The connection is closed by server upon returning from the
	// implementation. conn is a *net.TCPConn for a plain listener, or a *tls.Conn wrapping one when the server was
	// constructed with NewTLSTCPServer - callers needing TCP-specific options use srv's own keep-alive/deadline
	// handling instead of asserting the concrete type.
	HandleTCPConnection(logx.Logger, string, net.Conn)
}

// TCPServer implements common routines for a TCP server that interacts with unlimited number of clients while applying a rate limit.
type TCPServer struct {
	// ListenAddr is the IP address to listen on. Use 0.0.0.0 to listen on all network interfaces.
	ListenAddr string
	// ListenPort is the port number to listen on.
	ListenPort int
	// AppName is a human readable name that identifies the server application in log entries.
	AppName string
	// App is the concrete implementation of TCP server application.
	App TCPApp
	/*
		LimitPerSec is the maximum number of actions and connections acceptable from a single IP at a time.
		Once the limit is reached, new connections from the IP will be closed right away; existing conversations are
		left open.
	*/
	LimitPerSec int
	// TLSCertPath and TLSKeyPath, when both set, make StartAndBlock listen with TLS instead of plain TCP.
	TLSCertPath string
	TLSKeyPath  string

	mutex     *sync.Mutex
	logger    logx.Logger
	rateLimit *logx.RateLimit
	listener  net.Listener
	tlsConfig *tls.Config
}

// NewTCPServer constructs a new TCP server and initialises its internal structures.
func NewTCPServer(listenAddr string, listenPort int, appName string, app TCPApp, limitPerSec int) (srv *TCPServer) {
	srv = &TCPServer{
		ListenAddr:  listenAddr,
		ListenPort:  listenPort,
		AppName:     appName,
		App:         app,
		LimitPerSec: limitPerSec,
	}
	srv.Initialise()
	return
}

// NewTLSTCPServer is like NewTCPServer, but StartAndBlock listens with TLS using the given certificate and key.
func NewTLSTCPServer(listenAddr string, listenPort int, appName string, app TCPApp, limitPerSec int, certPath, keyPath string) (srv *TCPServer) {
	srv = NewTCPServer(listenAddr, listenPort, appName, app, limitPerSec)
	srv.TLSCertPath = certPath
	srv.TLSKeyPath = keyPath
	return
}

// Initialise initialises the internal structures of the TCP server, preparing it for accepting clients.
func (srv *TCPServer) Initialise() {
	srv.mutex = new(sync.Mutex)
	srv.logger = logx.Logger{
		ComponentName: srv.AppName,
		ComponentID:   []logx.IDField{{Key: "Addr", Value: srv.ListenAddr}, {Key: "TCPPort", Value: srv.ListenPort}},
	}
	srv.rateLimit = logx.NewRateLimit(ServerRateLimitIntervalSec, srv.LimitPerSec, &srv.logger)
}

/*
StartAndBlock starts TCP listener to process client connections and blocks until the server is told to stop.
Call this function after having initialised the TCP server.
*/
func (srv *TCPServer) StartAndBlock() error {
	defer srv.Stop()
	srv.mutex.Lock()
	if srv.listener != nil {
		srv.mutex.Unlock()
		return fmt.Errorf("TCPServer.StartAndBlock(%s): listener on port %d must not be started a second time", srv.AppName, srv.ListenPort)
	}
	if srv.TLSCertPath != "" {
		cert, err := tls.LoadX509KeyPair(srv.TLSCertPath, srv.TLSKeyPath)
		if err != nil {
			srv.mutex.Unlock()
			return fmt.Errorf("TCPServer.StartAndBlock(%s): failed to load TLS certificate - %v", srv.AppName, err)
		}
		srv.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		srv.logger.Info("", nil, "starting TCP listener with TLS enabled")
	} else {
		srv.logger.Info("", nil, "starting TCP listener")
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(srv.ListenAddr, strconv.Itoa(srv.ListenPort)))
	if err != nil {
		srv.mutex.Unlock()
		return fmt.Errorf("TCPServer.StartAndBlock(%s): failed to listen on port %d - %v", srv.AppName, srv.ListenPort, err)
	}
	srv.listener = listener
	srv.mutex.Unlock()
	for {
		client, err := listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return nil
			}
			return fmt.Errorf("TCPServer.StartAndBlock(%s): failed to accept new connection - %v", srv.AppName, err)
		}
		if procsup.LockedDown() {
			srv.logger.Warning(srv.AppName, nil, "rejecting new connection, lock-down is in effect")
			srv.logger.MaybeMinorError(client.Close())
			continue
		}
		// Check client IP against rate limit
		tcpClient := client.(*net.TCPConn)
		clientIP := tcpClient.RemoteAddr().(*net.TCPAddr).IP.String()
		if !srv.rateLimit.Add(clientIP, true) {
			srv.logger.MaybeMinorError(tcpClient.Close())
			continue
		}
		go srv.handleConnection(clientIP, tcpClient)
	}
}

// AddAndCheckRateLimit may be optionally invoked by TCP application in the middle of an ongoing conversation to check whether conversation is going on too fast.
func (srv *TCPServer) AddAndCheckRateLimit(clientIP string) bool {
	return srv.rateLimit.Add(clientIP, true)
}

// handleConnection is launched in an independent goroutine by StartAndBlock to interact with a connected client.
func (srv *TCPServer) handleConnection(clientIP string, client *net.TCPConn) {
	begin := time.Now()
	defer func() {
		srv.logger.MaybeMinorError(client.Close())
		srv.App.GetConnectionStats().Trigger(time.Since(begin).Seconds())
	}()
	srv.logger.Info(clientIP, nil, "connection is accepted")
	// Turn on keep-alive for OS to detect and remove dead clients
	if err := client.SetKeepAlive(true); err != nil {
		srv.logger.Warning(clientIP, err, "failed to turn on keep alive")
	}
	if err := client.SetKeepAlivePeriod(ServerDefaultIOTimeoutSec / 3 * time.Second); err != nil {
		srv.logger.Warning(clientIP, err, "failed to turn on keep alive")
	}
	// Apply the default IO timeout to prevent a potentially malfunctioning connection handler from hanging
	if err := client.SetReadDeadline(time.Now().Add(ServerDefaultIOTimeoutSec * time.Second)); err != nil {
		srv.logger.Warning(clientIP, err, "failed to set default read deadline, terminating the connection.")
		return
	}
	if err := client.SetWriteDeadline(time.Now().Add(ServerDefaultIOTimeoutSec * time.Second)); err != nil {
		srv.logger.Warning(clientIP, err, "failed to set default write deadline, terminating the connection.")
		return
	}
	var conn net.Conn = client
	if srv.tlsConfig != nil {
		tlsConn := tls.Server(client, srv.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			srv.logger.Warning(clientIP, err, "TLS handshake failed")
			return
		}
		conn = tlsConn
	}
	srv.App.HandleTCPConnection(srv.logger, clientIP, conn)
}

// Stop the TCP server from accepting new connections. Ongoing connections will continue nonetheless.
func (srv *TCPServer) Stop() {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	if srv.listener != nil {
		if err := srv.listener.Close(); err != nil {
			srv.logger.Warning(srv.AppName, err, "failed to stop TCP server listener")
		}
		srv.listener = nil
	}
	srv.logger.Info(srv.AppName, nil, "TCP server has shut down successfully")
}
