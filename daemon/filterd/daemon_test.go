package filterd

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rspamd-go/protoengine/logx"
	"github.com/rspamd-go/protoengine/protocol"
	"github.com/stretchr/testify/require"
)

func dialAndHandle(t *testing.T, d *Daemon) (client net.Conn, stop func()) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		d.HandleTCPConnection(logx.Logger{ComponentName: "test"}, "127.0.0.1", conn)
	}()

	client, err = net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	return client, func() {
		_ = client.Close()
		_ = listener.Close()
	}
}

func TestDaemon_PingOverTwoRequests(t *testing.T) {
	registry := protocol.NewCommandRegistry()
	d := NewDaemon(registry, nil, &NoopPipeline{}, 1024)
	client, stop := dialAndHandle(t, d)
	defer stop()

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	reader := bufio.NewReader(client)

	for i := 0; i < 2; i++ {
		_, err := client.Write([]byte("PING RSPAMC/1.0\r\n\r\n"))
		require.NoError(t, err)
		banner, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Contains(t, banner, "PONG")
		require.Equal(t, "RSPAMD/1.0 0 PONG\r\n", banner)
		// A PING reply is the banner line alone; nothing follows it until the next request.
		require.Zero(t, reader.Buffered())
	}
}

func TestDaemon_CheckWithBody(t *testing.T) {
	registry := protocol.NewCommandRegistry()
	d := NewDaemon(registry, nil, &NoopPipeline{}, 1024)
	client, stop := dialAndHandle(t, d)
	defer stop()

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	body := "Subject: hi\r\n\r\nhello world"
	request := "CHECK RSPAMC/1.1\r\nContent-Length: " + itoaForTest(len(body)) + "\r\n\r\n" + body
	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	banner, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, banner, "RSPAMD/1.1 0 OK")

	metric, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, metric, "Metric: default")
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
