package generation

import "testing"

func TestBuildPromptContainsSchemaAndQuestion(t *testing.T) {
	prompt := BuildPrompt("Tables:\n  - singer(id, name)", "How many singers are there?")

	if want := "Tables:\n  - singer(id, name)"; !contains(prompt, want) {
		t.Errorf("prompt missing schema text %q", want)
	}
	if want := "How many singers are there?"; !contains(prompt, want) {
		t.Errorf("prompt missing question text %q", want)
	}
	if want := "SQL QUERY:\n"; !contains(prompt, want) {
		t.Errorf("prompt missing trailing SQL QUERY marker")
	}
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		decoded  string
		wantSQL  string
	}{
		{
			name:    "strips echoed prompt and trailing chatter",
			prompt:  "QUESTION:\nhow many?\n\nSQL QUERY:\n",
			decoded: "QUESTION:\nhow many?\n\nSQL QUERY:\nSELECT COUNT(*) FROM singer;\nThat's the answer.",
			wantSQL: "SELECT COUNT(*) FROM singer;",
		},
		{
			name:    "no prompt echo, takes completion as-is up to semicolon",
			prompt:  "QUESTION:\nhow many?\n",
			decoded: "SELECT COUNT(*) FROM singer;",
			wantSQL: "SELECT COUNT(*) FROM singer;",
		},
		{
			name:    "no semicolon returns completion unchanged",
			prompt:  "",
			decoded: "SELECT COUNT(*) FROM singer",
			wantSQL: "SELECT COUNT(*) FROM singer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSQL(tt.prompt, tt.decoded)
			if got != tt.wantSQL {
				t.Errorf("ExtractSQL() = %q, want %q", got, tt.wantSQL)
			}
		})
	}
}

func TestExtractSQLIdempotent(t *testing.T) {
	decoded := "some echoed prompt SELECT 1; trailing notes"
	once := ExtractSQL("", decoded)
	twice := ExtractSQL("", once)
	if once != twice {
		t.Errorf("ExtractSQL not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestProcessRSSMBReadsCurrentProcess(t *testing.T) {
	rss := processRSSMB()
	if rss < 0 {
		t.Skip("/proc/self/status unavailable on this platform")
	}
	if rss == 0 {
		t.Error("processRSSMB() = 0, want a positive RSS for a running process")
	}
}

func TestProcessCPUSecondsIsMonotonic(t *testing.T) {
	first := processCPUSeconds()
	if first < 0 {
		t.Skip("/proc/self/stat unavailable on this platform")
	}
	for i := 0; i < 1000000; i++ {
	}
	second := processCPUSeconds()
	if second < first {
		t.Errorf("processCPUSeconds() decreased: %v then %v", first, second)
	}
}

func TestRunnerTruncate(t *testing.T) {
	r := New(10, 512)
	got := r.truncate("0123456789abcdef")
	if len(got) != 10 {
		t.Errorf("truncate() length = %d, want 10", len(got))
	}

	r2 := New(0, 512)
	short := "hello"
	if got := r2.truncate(short); got != short {
		t.Errorf("truncate() with MaxPromptChars=0 should be a no-op, got %q", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return len(needle) == 0
}
