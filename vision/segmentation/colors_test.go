package segmentation

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestNewColorTable(t *testing.T) {
	ct := NewColorTable(DefaultNumClasses)
	test.That(t, len(ct), test.ShouldEqual, DefaultNumClasses)
	test.That(t, ct[0], test.ShouldResemble, color.NRGBA{})
	for i := 1; i < len(ct); i++ {
		test.That(t, ct[i].A, test.ShouldEqual, uint8(OverlayAlpha))
		test.That(t, ct[i], test.ShouldNotResemble, color.NRGBA{})
	}
	// deterministic: building it twice gives the same palette
	again := NewColorTable(DefaultNumClasses)
	test.That(t, again, test.ShouldResemble, ct)
}

func TestNewRandomColorTable(t *testing.T) {
	ct := NewRandomColorTable(DefaultNumClasses)
	test.That(t, len(ct), test.ShouldEqual, DefaultNumClasses)
	test.That(t, ct[0], test.ShouldResemble, color.NRGBA{})
	for i := 1; i < len(ct); i++ {
		test.That(t, ct[i].A, test.ShouldEqual, uint8(OverlayAlpha))
	}
}

func TestVOCLabels(t *testing.T) {
	test.That(t, len(VOCLabels), test.ShouldEqual, DefaultNumClasses)
	test.That(t, VOCLabels[0], test.ShouldEqual, "background")
	test.That(t, VOCLabels[15], test.ShouldEqual, "person")
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labelmap.txt")
	err := os.WriteFile(path, []byte("background\ncat\ndog\n"), 0o600)
	test.That(t, err, test.ShouldBeNil)

	labels, err := LoadLabels(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels, test.ShouldResemble, []string{"background", "cat", "dog"})

	_, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)

	empty := filepath.Join(dir, "empty.txt")
	err = os.WriteFile(empty, []byte(""), 0o600)
	test.That(t, err, test.ShouldBeNil)
	_, err = LoadLabels(empty)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "empty")
}
