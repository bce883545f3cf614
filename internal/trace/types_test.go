package trace

import "testing"

func TestTags(t *testing.T) {
	var tags Tags
	tags.Add(IO)
	tags.Add(IO)
	tags.Add(Error)

	if len(tags) != 2 {
		t.Fatalf("duplicate tag added: %v", tags)
	}
	if tags.Primary() != IO {
		t.Errorf("Primary = %s", tags.Primary())
	}
	got := tags.Strings()
	if got[0] != "#io" || got[1] != "#error" {
		t.Errorf("Strings = %v", got)
	}
}

func TestDefaultEnricher(t *testing.T) {
	tests := []struct {
		name     string
		category string
		fn       string
		fd       string
		ret      int64
		want     []Tag
		notWant  []Tag
	}{
		{"stdout write", "io", "write", "1", 21, []Tag{IO, Stdio}, []Tag{Error}},
		{"file read", "io", "read", "3", 0, []Tag{IO}, []Tag{Stdio, Error}},
		{"missing file", "file", "openat", "", -2, []Tag{File, Error}, nil},
		{"address is not an error", "io", "read", "3", -4096, nil, []Tag{Error}},
		{"exit", "process", "exit_group", "", 0, []Tag{Process, Exit}, nil},
		{"getpid", "process", "getpid", "", 1, []Tag{Process}, []Tag{Exit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvent(0x1004, tt.category, tt.fn, "")
			e.Ret = tt.ret
			if tt.fd != "" {
				e.Annotate("fd", tt.fd)
			}
			DefaultEnricher(e)
			for _, tag := range tt.want {
				if !e.Tags.Has(tag) {
					t.Errorf("missing %s in %v", tag, e.Tags)
				}
			}
			for _, tag := range tt.notWant {
				if e.Tags.Has(tag) {
					t.Errorf("unexpected %s in %v", tag, e.Tags)
				}
			}
		})
	}

	e := NewEvent(0, "file", "open", "")
	e.Ret = -2
	DefaultEnricher(e)
	if e.Annotations.Get("errno") != "2" {
		t.Errorf("errno annotation = %q", e.Annotations.Get("errno"))
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	for i := 0; i < 3; i++ {
		e := NewEvent(uint64(i), "io", "write", "")
		if i == 2 {
			e.AddTag(Error)
		}
		c.Add(e)
	}
	if c.Count(IO) != 3 || c.Count(Error) != 1 {
		t.Errorf("Count io=%d error=%d", c.Count(IO), c.Count(Error))
	}
	if len(c.Events()) != 3 {
		t.Errorf("Events = %d", len(c.Events()))
	}
	if got := c.GetAndClear(); len(got) != 3 {
		t.Errorf("GetAndClear = %d", len(got))
	}
	if len(c.Events()) != 0 {
		t.Error("GetAndClear left events behind")
	}
}
