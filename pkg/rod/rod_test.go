package rod

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
)

func TestParseChannel(t *testing.T) {
	for _, c := range Channels() {
		got, err := ParseChannel(strings.ToLower(c.String()))
		if err != nil || got != c {
			t.Errorf("ParseChannel(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseChannel("HKL"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("ParseChannel(HKL) = %v, want ErrUnknownChannel", err)
	}
}

func TestWriteErrors(t *testing.T) {
	r := New(3, 5)
	if err := r.Write(Channel(42), 0, 1); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Write(bad channel) = %v", err)
	}
	if err := r.Write(L, 3, 1); !errors.Is(err, ErrRowIndex) {
		t.Errorf("Write(row 3) = %v", err)
	}
	if err := r.WriteRow(0, []float64{1, 2, 3}); !errors.Is(err, ErrChannelCount) {
		t.Errorf("WriteRow(3 values) = %v", err)
	}
	if err := r.WriteRow(1, []float64{0.1, 0.2, 1.5, 100, 3, 0.99}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if got := r.Value(StructureFactor, 1); got != 3 {
		t.Errorf("Value(STR, 1) = %v, want 3", got)
	}
	if len(r.Profiles[2]) != 6 {
		t.Errorf("profile width = %d, want images+1 = 6", len(r.Profiles[2]))
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name   string
		region Region
		want   []image.Point
	}{
		{"vertical", Line{5, 2, 5, 4}, []image.Point{{5, 2}, {5, 3}, {5, 4}}},
		{"reversed", Line{5, 4, 5, 2}, []image.Point{{5, 2}, {5, 3}, {5, 4}}},
		{"tilted right", Line{0, 0, 4, 4}, []image.Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}},
		{"tilted left", Line{4, 0, 0, 2}, []image.Point{{4, 0}, {2, 1}, {0, 2}}},
		{"rect", Rect{X: 10, Y: 1, W: 5, H: 3}, []image.Point{{13, 1}, {13, 2}, {13, 3}}},
		{"flat rect", Rect{X: 10, Y: 1, W: 5, H: 0}, nil},
		{"horizontal", Line{2, 7, 6, 7}, []image.Point{{4, 7}}},
	}
	for _, tt := range tests {
		got := Path(tt.region)
		if len(got) != len(tt.want) {
			t.Errorf("%s: Path = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: Path = %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}
	if Path(nil) != nil {
		t.Error("Path(nil) should be empty")
	}
}

func acceptedRod(t *testing.T, rows [][2]float64) *Rod {
	t.Helper()
	r := New(len(rows)+1, 3)
	for i, row := range rows {
		values := []float64{0, 0, row[0], row[1] * row[1], row[1], 0.9}
		profile := []float64{row[0], 10, 20, 10}
		if err := r.accept(values, "y = f(x)", profile); err != nil {
			t.Fatalf("accept: %v", err)
		}
		r.X[i] = i
	}
	return r
}

func TestTableDropsSpikes(t *testing.T) {
	r := acceptedRod(t, [][2]float64{
		{2.0, 5}, {1.8, 6}, {1.6, 100}, {1.4, 7}, {1.2, 0.1}, {1.0, 6}, {0.8, 5},
	})
	table := r.Table()
	var ls []float64
	for _, row := range table {
		ls = append(ls, row.L)
	}
	want := []float64{2.0, 1.8, 1.4, 1.0, 0.8}
	if len(ls) != len(want) {
		t.Fatalf("Table L values = %v, want %v", ls, want)
	}
	for i := range want {
		if ls[i] != want[i] {
			t.Fatalf("Table L values = %v, want %v", ls, want)
		}
	}
	if table[0].Intensity != 25 || table[0].Error != 0.9 {
		t.Errorf("first row = %+v", table[0])
	}
}

func TestSelectRange(t *testing.T) {
	r := acceptedRod(t, [][2]float64{{2.0, 5}, {1.8, 6}, {1.6, 100}, {1.4, 7}, {1.2, 8}})
	l, sf, err := r.SelectRange(1.3, 1.9)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if len(l) != 2 || l[0] != 1.8 || l[1] != 1.4 || sf[1] != 7 {
		t.Errorf("SelectRange = %v %v", l, sf)
	}
	if _, _, err := r.SelectRange(0.5, 1.5); !errors.Is(err, ErrRange) {
		t.Errorf("SelectRange outside = %v, want ErrRange", err)
	}
}

func TestWriteProfiles(t *testing.T) {
	r := New(3, 3)
	if err := r.accept(make([]float64, numChannels), "y = 1.0000*x", []float64{1.23456, 10, 20.5, 30}); err != nil {
		t.Fatal(err)
	}
	if err := r.accept(make([]float64, numChannels), "y = 2.0000*x", []float64{0.5, 0, 0, 7}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteProfiles(&buf, r); err != nil {
		t.Fatalf("WriteProfiles: %v", err)
	}
	want := "1.235, 10.000, 20.500, 30.000\ny = 1.0000*x\n" +
		"0.500, 0.000, 0.000, 7.000\ny = 2.0000*x\n"
	if buf.String() != want {
		t.Errorf("WriteProfiles =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteProfilesStopsAtEmptyRow(t *testing.T) {
	r := New(4, 6)
	rows := [][]float64{
		{1.5, 0, 0, 40, 90, 35, 2},
		{1.25, 0, 0, 0, 0, 0, 0},
		{1.0, 3, 8, 60, 8, 3, 1},
	}
	for i, p := range rows {
		if err := r.accept(make([]float64, numChannels), fmt.Sprintf("f%d", i), p); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := WriteProfiles(&buf, r); err != nil {
		t.Fatalf("WriteProfiles: %v", err)
	}
	want := "1.500, 0.000, 0.000, 40.000, 90.000, 35.000, 2.000\nf0\n"
	if buf.String() != want {
		t.Errorf("WriteProfiles =\n%q\nwant\n%q", buf.String(), want)
	}
}
