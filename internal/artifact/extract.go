package artifact

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/botlauncher/launcher/internal/domain"
)

type archiveFormat int

const (
	formatZip archiveFormat = iota
	formatTarGz
	formatTarXz
)

func formatOf(name string) (archiveFormat, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return formatTarXz, nil
	default:
		return 0, fmt.Errorf("unsupported archive %q", name)
	}
}

func isArchive(name string) bool {
	_, err := formatOf(name)
	return err == nil
}

// extractArchive unpacks archive into destDir, reporting each written entry
// to onEntry. Every failure is an ArchiveExtractionError.
func extractArchive(archive, destDir string, onEntry func(string)) error {
	if onEntry == nil {
		onEntry = func(string) {}
	}
	format, err := formatOf(archive)
	if err != nil {
		return domain.ArchiveExtractionError{Archive: archive, Err: err}
	}

	switch format {
	case formatZip:
		err = extractZip(archive, destDir, onEntry)
	default:
		err = extractTarFile(archive, destDir, format, onEntry)
	}
	if err != nil {
		return domain.ArchiveExtractionError{Archive: archive, Err: err}
	}
	return nil
}

func extractZip(archive, destDir string, onEntry func(string)) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeArchivePath(destDir, f.Name)
		if err != nil {
			return err
		}
		if err := refuseLinkedParents(destDir, target); err != nil {
			return err
		}
		onEntry(f.Name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		err = writeFile(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarFile(archive, destDir string, format archiveFormat, onEntry func(string)) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case formatTarXz:
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("xz reader: %w", err)
		}
		r = xzr
	default:
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		r = gzr
	}
	return extractTar(tar.NewReader(r), destDir, onEntry)
}

func extractTar(tr *tar.Reader, destDir string, onEntry func(string)) error {
	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("tar read: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		}

		target, err := safeArchivePath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if err := refuseLinkedParents(destDir, target); err != nil {
			return err
		}
		onEntry(hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir parent: %w", err)
			}
			if err := writeFile(target, io.LimitReader(tr, hdr.Size), hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir parent: %w", err)
			}
			link, err := runtimeSymlink(destDir, target, hdr.Linkname)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("symlink %s -> %s: %w", target, hdr.Linkname, err)
			}

		case tar.TypeLink:
			linkTarget, err := safeArchivePath(destDir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := refuseLinkedParents(destDir, linkTarget); err != nil {
				return err
			}
			if fi, err := os.Lstat(linkTarget); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
				return fmt.Errorf("hardlink %q points at a symlink", hdr.Name)
			}
			_ = os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("hardlink %s -> %s: %w", target, hdr.Linkname, err)
			}

		default:
			return fmt.Errorf("unsupported tar entry type %d for %q", hdr.Typeflag, hdr.Name)
		}
	}
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	// Never write through a link left by an earlier entry.
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace symlink %s: %w", target, err)
		}
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

// safeArchivePath joins name onto destRoot, rejecting absolute and escaping paths.
func safeArchivePath(destRoot, name string) (string, error) {
	if name == "" {
		return "", errors.New("archive entry has empty path")
	}

	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", errors.New("archive entry has empty path after cleaning")
	}
	if path.IsAbs(clean) {
		return "", fmt.Errorf("archive entry uses absolute path: %q", name)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry path traversal: %q", name)
	}

	target := filepath.Join(destRoot, filepath.FromSlash(clean))
	if !within(destRoot, target) {
		return "", fmt.Errorf("archive entry escapes destination: %q", name)
	}
	return target, nil
}

// runtimeSymlink checks a symlink entry and returns the link text to create.
// Runtime archives only link within themselves, so absolute targets are
// refused and relative ones must resolve under destDir.
func runtimeSymlink(destDir, symlinkPath, linkname string) (string, error) {
	slashed := strings.ReplaceAll(linkname, "\\", "/")
	if linkname == "" || path.IsAbs(slashed) || filepath.IsAbs(linkname) || filepath.VolumeName(linkname) != "" {
		return "", fmt.Errorf("symlink %q -> %q: absolute target", filepath.Base(symlinkPath), linkname)
	}

	resolved := filepath.Join(filepath.Dir(symlinkPath), filepath.FromSlash(slashed))
	if !within(destDir, resolved) {
		return "", fmt.Errorf("symlink %q -> %q escapes destination", filepath.Base(symlinkPath), linkname)
	}
	return filepath.FromSlash(slashed), nil
}

// refuseLinkedParents fails when any existing directory between destDir and
// target is a symlink, so later entries cannot be written through one.
func refuseLinkedParents(destDir, target string) error {
	rel, err := filepath.Rel(destDir, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	cur := destDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", cur, err)
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("archive entry %q passes through symlink %q", target, cur)
		}
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// removeArchiveMetadata deletes macOS resource-fork leftovers under dir.
func removeArchiveMetadata(dir string) error {
	var doomed []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if name == "__MACOSX" || strings.HasPrefix(name, "._") {
			doomed = append(doomed, p)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range doomed {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}
