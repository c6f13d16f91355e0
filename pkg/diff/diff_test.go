package diff

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCompute_Identical(t *testing.T) {
	res := Compute("a\nb\n", "a\nb\n")
	assert.True(t, res.Identical())
	assert.Empty(t, res.Patch)
}

func TestCompute_CountsLines(t *testing.T) {
	before := "{\n  \"title\": \"old\",\n  \"body\": \"x\"\n}\n"
	after := "{\n  \"title\": \"new\",\n  \"body\": \"x\",\n  \"tag\": \"y\"\n}\n"

	res := Compute(before, after)
	assert.False(t, res.Identical())
	assert.Equal(t, 3, res.Insertions)
	assert.Equal(t, 2, res.Deletions)
	assert.NotEmpty(t, res.Patch)
}

// 拼接 equal 与 insert 块应还原 after，拼接 equal 与 delete 块应还原 before
func TestCompute_ChunksRebuildBothSides(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	lines := gen.SliceOf(gen.OneConstOf("a", "b", "c", "d"))

	properties.Property("chunks rebuild before and after", prop.ForAll(
		func(x, y []string) bool {
			before := strings.Join(x, "\n")
			after := strings.Join(y, "\n")
			res := Compute(before, after)

			var gotBefore, gotAfter strings.Builder
			for _, c := range res.Chunks {
				if c.Op != OpInsert {
					gotBefore.WriteString(c.Text)
				}
				if c.Op != OpDelete {
					gotAfter.WriteString(c.Text)
				}
			}
			return gotBefore.String() == before && gotAfter.String() == after
		},
		lines, lines,
	))

	properties.TestingRun(t)
}
