package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

// ErrMalformedKey 片段键缺少 ":" 分隔符
var ErrMalformedKey = errors.New("片段键格式无效,应为 prefix:suffix")

// alphabet 后缀字符的排名表: 0-9 < A-Z < a-z
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var rankTable = func() map[rune]int {
	m := make(map[rune]int, len(alphabet))
	for i, r := range alphabet {
		m[r] = i
	}
	return m
}()

// rank 表外字符排在全部62个符号之后,按码点区分
func rank(r rune) int {
	if v, ok := rankTable[r]; ok {
		return v
	}
	return len(alphabet) + int(r)
}

// Key 稳定排序键 prefix:suffix
type Key struct {
	Prefix string
	Suffix []rune
}

// ParseKey 解析片段键,以第一个 ":" 分隔
func ParseKey(s string) (Key, error) {
	prefix, suffix, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	return Key{Prefix: prefix, Suffix: []rune(suffix)}, nil
}

// IsKey 判断字符串是否具有 prefix:suffix 形状
func IsKey(s string) bool {
	return strings.Contains(s, ":")
}

// String 还原键
func (k Key) String() string {
	return k.Prefix + ":" + string(k.Suffix)
}

// CompareKeys 比较两个键,返回 -1/0/1
// 先比较前缀;前缀相同时短后缀在前;等长后缀从最后一个字符向前按排名表比较
func CompareKeys(a, b Key) int {
	if c := strings.Compare(a.Prefix, b.Prefix); c != 0 {
		return c
	}
	if len(a.Suffix) != len(b.Suffix) {
		if len(a.Suffix) < len(b.Suffix) {
			return -1
		}
		return 1
	}
	for i := len(a.Suffix) - 1; i >= 0; i-- {
		ra, rb := rank(a.Suffix[i]), rank(b.Suffix[i])
		if ra != rb {
			if ra < rb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Compare 比较两个字符串形式的键
func Compare(a, b string) (int, error) {
	ka, err := ParseKey(a)
	if err != nil {
		return 0, err
	}
	kb, err := ParseKey(b)
	if err != nil {
		return 0, err
	}
	return CompareKeys(ka, kb), nil
}

// SortFragments 按稳定排序键原地排序
// 任一片段键无效时不修改切片并返回错误
func SortFragments(fragments []models.ContentFragment) error {
	keys := make([]Key, len(fragments))
	for i, f := range fragments {
		k, err := ParseKey(f.Key)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	idx := make([]int, len(fragments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return CompareKeys(keys[idx[i]], keys[idx[j]]) < 0
	})

	sorted := make([]models.ContentFragment, len(fragments))
	for i, k := range idx {
		sorted[i] = fragments[k]
	}
	copy(fragments, sorted)
	return nil
}
