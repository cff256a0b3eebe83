package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func plainColors() ColorSystem {
	return NewColorSystem("dark", false, &bytes.Buffer{})
}

func TestTable_RenderDefault(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 80)
	table.SetHeaders("Archive", "Size")
	table.AddRow("demo_2024-01-01_v1.3dev", "1.2 KB")
	table.AddRow("demo_2024-01-01_v2-inc.3dev", "300 B")

	out := table.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "+"))
	assert.Contains(t, lines[1], "Archive")
	assert.Contains(t, lines[3], "demo_2024-01-01_v1.3dev")
	assert.Equal(t, len(lines[0]), len(lines[5]))
}

func TestTable_RightAlignment(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("minimal"), 80)
	table.SetHeaders("Name", "Bytes")
	table.SetColumnAlignment(1, AlignRight)
	table.AddRow("a", "1")
	table.AddRow("b", "12345")

	lines := strings.Split(strings.TrimRight(table.Render(), "\n"), "\n")
	assert.True(t, strings.HasSuffix(lines[1], "    1"))
	assert.True(t, strings.HasSuffix(lines[2], "12345"))
}

func TestTable_TruncatesToWidth(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 30)
	table.SetHeaders("Path")
	table.AddRow(strings.Repeat("x", 100))

	for _, line := range strings.Split(strings.TrimRight(table.Render(), "\n"), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), 30)
	}
	assert.Contains(t, table.Render(), "...")
}

func TestTable_Empty(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("rounded"), 80)
	assert.Empty(t, table.Render())
}
