package cookies

import (
	"testing"
	"time"
)

func TestManagerApplyAndCurrent(t *testing.T) {
	t.Parallel()

	jar := NewMemoryJar()
	mgr := NewManager(jar, "api.waypost.example", "")

	expiry := time.Now().Add(time.Hour)
	if err := mgr.Apply("tok-123", expiry); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	token, ok := mgr.Current()
	if !ok || token != "tok-123" {
		t.Errorf("Current() = (%q, %v), want (%q, true)", token, ok, "tok-123")
	}

	cookie, ok := jar.Get("api.waypost.example", DefaultCookieName)
	if !ok {
		t.Fatal("cookie not present in jar under default name")
	}
	if !cookie.Secure || cookie.Path != "/" {
		t.Errorf("cookie attributes = {Secure:%v Path:%q}, want {Secure:true Path:\"/\"}", cookie.Secure, cookie.Path)
	}
	if !cookie.Expires.Equal(expiry) {
		t.Errorf("cookie expiry = %v, want %v", cookie.Expires, expiry)
	}
}

func TestManagerApplyEmptyToken(t *testing.T) {
	t.Parallel()

	mgr := NewManager(NewMemoryJar(), "api.waypost.example", "sid")
	if err := mgr.Apply("", time.Now()); err == nil {
		t.Error("Apply(\"\") succeeded, want error")
	}
}

func TestManagerDrop(t *testing.T) {
	t.Parallel()

	mgr := NewManager(NewMemoryJar(), "api.waypost.example", "sid")
	if err := mgr.Apply("tok-123", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := mgr.Drop(); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, ok := mgr.Current(); ok {
		t.Error("Current() found a token after Drop")
	}
	// Dropping again is a no-op.
	if err := mgr.Drop(); err != nil {
		t.Errorf("second Drop() error = %v", err)
	}
}

func TestJarIsolatesDomains(t *testing.T) {
	t.Parallel()

	jar := NewMemoryJar()
	a := NewManager(jar, "a.example", "sid")
	b := NewManager(jar, "b.example", "sid")

	if err := a.Apply("tok-a", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := b.Current(); ok {
		t.Error("cookie for a.example visible under b.example")
	}
}
