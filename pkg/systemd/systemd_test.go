package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", sock)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(buf[:n])
}

func TestNotify(t *testing.T) {
	conn := listen(t)

	if ok, err := Ready(); !ok || err != nil {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
	if got := read(t, conn); got != "READY=1" {
		t.Fatalf("got %q", got)
	}
	if _, err := Status("%d jobs armed", 4); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got != "STATUS=4 jobs armed" {
		t.Fatalf("got %q", got)
	}
	if _, err := Stopping(); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got != "STOPPING=1" {
		t.Fatalf("got %q", got)
	}
}

func TestNotifyWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if ok, err := Ready(); ok || err != nil {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
	t.Setenv("WATCHDOG_USEC", "")
	if err := Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("Watchdog = %v", err)
	}
}
