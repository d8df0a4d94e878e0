package extract

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"前缀不同按字典序", "a:zz", "b:00", -1},
		{"短后缀在前", "p:zz", "p:000", -1},
		{"相同键相等", "p:Ab1", "p:Ab1", 0},
		{"末位数字小于大写", "p:x1", "p:xA", -1},
		{"末位大写小于小写", "p:xZ", "p:xa", -1},
		{"从右向左比较", "p:a1", "p:Z2", -1},
		{"右侧相同时看左侧", "p:a1", "p:Z1", 1},
		{"空后缀最短", "p:", "p:0", -1},
		{"后缀中的冒号属于后缀", "p:a:b", "p:a:c", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compare() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompare_RankDiffersFromASCII(t *testing.T) {
	// ASCII中 'Z' < 'a' 与排名表一致, 但 '_' 位于两者之间且不在表内
	got, err := Compare("p:_", "p:z")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("表外字符应排在所有表内字符之后, got %d", got)
	}
}

func TestCompare_Malformed(t *testing.T) {
	if _, err := Compare("nocolon", "p:1"); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("期望ErrMalformedKey, 实际: %v", err)
	}
	if _, err := Compare("p:1", ""); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("期望ErrMalformedKey, 实际: %v", err)
	}
}

func TestCompare_TotalOrder(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const chars = "09AZaz_b"
	gen := func() string {
		prefix := []string{"a", "b"}[r.Intn(2)]
		n := r.Intn(3)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = chars[r.Intn(len(chars))]
		}
		return prefix + ":" + string(buf)
	}

	keys := make([]string, 40)
	for i := range keys {
		keys[i] = gen()
	}

	cmp := func(a, b string) int {
		c, err := Compare(a, b)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	for _, a := range keys {
		for _, b := range keys {
			if cmp(a, b) != -cmp(b, a) {
				t.Fatalf("反对称性不成立: %q %q", a, b)
			}
			for _, c := range keys {
				if cmp(a, b) <= 0 && cmp(b, c) <= 0 && cmp(a, c) > 0 {
					t.Fatalf("传递性不成立: %q %q %q", a, b, c)
				}
			}
		}
	}
}

func TestSortFragments(t *testing.T) {
	frags := []models.ContentFragment{
		{Key: "c:2a", Text: "四"},
		{Key: "c:1", Text: "一"},
		{Key: "c:a1", Text: "三"},
		{Key: "c:b", Text: "二"},
	}
	if err := SortFragments(frags); err != nil {
		t.Fatal(err)
	}

	want := []string{"一", "二", "三", "四"}
	for i, f := range frags {
		if f.Text != want[i] {
			t.Errorf("位置%d: got %q, want %q", i, f.Text, want[i])
		}
	}

	bad := []models.ContentFragment{{Key: "c:1", Text: "x"}, {Key: "bad", Text: "y"}}
	if err := SortFragments(bad); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("期望ErrMalformedKey, 实际: %v", err)
	}
	if bad[0].Key != "c:1" {
		t.Error("出错时不应修改切片")
	}
}
