// Package diff line based diff between two payload renderings
// Package diff 计算两份内容渲染之间的按行差异
package diff

import "github.com/sergi/go-diff/diffmatchpatch"

// Op chunk operation
// Op 差异块操作类型
type Op string

const (
	OpEqual  Op = "equal"
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

// Chunk one contiguous diff block
// Chunk 一个连续的差异块
type Chunk struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

// Result diff chunks plus a textual patch
// Result 差异块以及文本补丁
type Result struct {
	Chunks     []Chunk `json:"chunks"`
	Insertions int     `json:"insertions"` // inserted lines // 新增行数
	Deletions  int     `json:"deletions"`  // deleted lines // 删除行数
	Patch      string  `json:"patch"`
}

// Identical reports whether the two sides had no changes
// Identical 返回两边是否完全相同
func (r Result) Identical() bool {
	return r.Insertions == 0 && r.Deletions == 0
}

// Compute diffs before and after line by line
// Compute 按行计算 before 与 after 的差异
func Compute(before, after string) Result {
	dmp := diffmatchpatch.New()

	// 先将行映射为字符，按行比较后再还原
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var res Result
	res.Chunks = make([]Chunk, 0, len(diffs))
	for _, d := range diffs {
		var op Op
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
			res.Insertions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			op = OpDelete
			res.Deletions += countLines(d.Text)
		default:
			op = OpEqual
		}
		res.Chunks = append(res.Chunks, Chunk{Op: op, Text: d.Text})
	}

	res.Patch = dmp.PatchToText(dmp.PatchMake(before, diffs))
	return res
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
