package stage

import "testing"

func TestDefaultTableOrder(t *testing.T) {
	table := Default()

	if table.Len() != len(Order) {
		t.Fatalf("table has %d stages, want %d", table.Len(), len(Order))
	}

	for i, st := range table.Stages() {
		if st.ID != Order[i] {
			t.Errorf("stage %d = %q, want %q", i, st.ID, Order[i])
		}
		if st.Ordinal != i+1 {
			t.Errorf("stage %q ordinal = %d, want %d", st.ID, st.Ordinal, i+1)
		}
		if st.Command == "" {
			t.Errorf("stage %q has empty command", st.ID)
		}
		if len(st.Artifacts) == 0 {
			t.Errorf("stage %q has no expected artifacts", st.ID)
		}
	}
}

func TestTableGet(t *testing.T) {
	table := Default()

	st, ok := table.Get(Extract)
	if !ok {
		t.Fatal("extract stage not found")
	}
	if st.ID != Extract {
		t.Errorf("got stage %q, want %q", st.ID, Extract)
	}

	if _, ok := table.Get(ID("flash-bios")); ok {
		t.Error("unknown stage id should not resolve")
	}
}

func TestNewTableRejectsWrongOrder(t *testing.T) {
	stages := Defaults()
	stages[0], stages[1] = stages[1], stages[0]

	if _, err := NewTable(stages); err == nil {
		t.Error("expected error for out-of-order stages")
	}
}

func TestNewTableRejectsMissingCommand(t *testing.T) {
	stages := Defaults()
	stages[2].Command = ""

	if _, err := NewTable(stages); err == nil {
		t.Error("expected error for stage with no command")
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   ID
		want bool
	}{
		{FetchDevice, true},
		{DownloadFW, true},
		{Package, true},
		{ID("flash-bios"), false},
		{ID(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			if got := Valid(tt.id); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
