package logger

import "testing"

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "prod", "development", ""} {
		log, err := New(mode, "debug")
		if err != nil {
			t.Fatalf("New(%q) failed: %v", mode, err)
		}
		log.With("job", "test").Info("hello", "key", "value")
	}
}

func TestNewRejectsLevel(t *testing.T) {
	if _, err := New("development", "loud"); err == nil {
		t.Errorf("New failed: expected error for unknown level")
	}
}

func TestBadgerAdapter(t *testing.T) {
	b := Nop().Badger()
	b.Errorf("error %d\n", 1)
	b.Warningf("warning %d\n", 2)
	b.Infof("info %d\n", 3)
	b.Debugf("debug %d\n", 4)
}
