package archive

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
)

// Opener turns archive files into parsed archives, removing the envelope
// and compression layers
type Opener struct {
	sealer      *envelope.Sealer
	compression *envelope.CompressionManager
}

// NewOpener creates an opener. A nil sealer can only open plain archives.
func NewOpener(sealer *envelope.Sealer) *Opener {
	return &Opener{sealer: sealer, compression: envelope.NewCompressionManager()}
}

// Decode returns the plaintext of raw archive bytes
func (o *Opener) Decode(data []byte, passphrase string) ([]byte, error) {
	if envelope.IsEncrypted(data) {
		if o.sealer == nil {
			return nil, errors.NewDecryptionError("no key material configured", nil)
		}
		plain, err := o.sealer.Open(data, passphrase)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	plain, _, err := o.compression.Unwrap(data)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// ReadFile reads path and decodes it
func (o *Opener) ReadFile(path, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("archive "+path, err)
		}
		return nil, errors.NewErrorClassifier().ClassifyError(err)
	}
	return o.Decode(data, passphrase)
}

// Open reads, decodes and parses an archive file
func (o *Opener) Open(path, passphrase string) (*Archive, error) {
	plain, err := o.ReadFile(path, passphrase)
	if err != nil {
		return nil, err
	}
	a, err := Parse(plain)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			return nil, appErr.WithContext("archive", path)
		}
		return nil, err
	}
	return a, nil
}

// OpenPlain opens an archive that must not be encrypted
func (o *Opener) OpenPlain(path string) (*Archive, error) {
	if envelope.IsEncryptedFile(path) {
		return nil, errors.NewEncryptedInputError(path)
	}
	return o.Open(path, "")
}

// ReadManifest decodes only the manifest. Plain uncompressed archives are
// read up to the terminator line; encrypted ones are rejected.
func (o *Opener) ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("archive "+path, err)
		}
		return nil, errors.NewErrorClassifier().ClassifyError(err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	head, _ := r.Peek(headerPeekLen)
	if envelope.IsEncrypted(head) {
		return nil, errors.NewEncryptedInputError(path)
	}
	if envelope.IsCompressed(head) {
		a, err := o.Open(path, "")
		if err != nil {
			return nil, err
		}
		return a.Manifest, nil
	}

	var buf bytes.Buffer
	for {
		line, err := r.ReadBytes('\n')
		if bytes.Equal(bytes.TrimRight(line, "\n"), []byte(ManifestTerminator)) {
			return UnmarshalManifest(buf.Bytes())
		}
		buf.Write(line)
		if err == io.EOF {
			return nil, errors.NewFormatError("manifest terminator not found", nil).WithContext("archive", path)
		}
		if err != nil {
			return nil, errors.NewErrorClassifier().ClassifyError(err)
		}
	}
}

// Info describes one archive file in a backup directory
type Info struct {
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	Encrypted  bool
	Compressed bool
	// Manifest is nil for encrypted or unreadable archives
	Manifest *Manifest
	Err      error
}

// Version returns the label from the manifest, else from the file name
func (i Info) Version() string {
	if i.Manifest != nil && i.Manifest.Stats.BackupVersion != "" {
		return i.Manifest.Stats.BackupVersion
	}
	if _, v, inc, ok := ParseArchiveName(i.Name); ok {
		return Label(v, inc)
	}
	return "?"
}

// List returns the archives of dir, newest modification first
func (o *Opener) List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewErrorClassifier().ClassifyError(err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		info := Info{
			Path:      path,
			Name:      e.Name(),
			Size:      fi.Size(),
			ModTime:   fi.ModTime(),
			Encrypted: envelope.IsEncryptedFile(path),
		}
		if !info.Encrypted {
			info.Compressed = isCompressedFile(path)
			info.Manifest, info.Err = o.ReadManifest(path)
		}
		infos = append(infos, info)
	}

	SortNewestFirst(infos)
	return infos, nil
}

// SortNewestFirst orders by modification time, then archive date and
// version, then name, descending
func SortNewestFirst(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		di, vi, _, oki := ParseArchiveName(infos[i].Name)
		dj, vj, _, okj := ParseArchiveName(infos[j].Name)
		if oki && okj {
			if di != dj {
				return di > dj
			}
			if vi != vj {
				return vi > vj
			}
		}
		return infos[i].Name > infos[j].Name
	})
}

// headerPeekLen covers both the envelope and the compression prefix
var headerPeekLen = max(len(envelope.MagicPrefix), len(envelope.CompressedPrefix))

func isCompressedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(envelope.CompressedPrefix))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return envelope.IsCompressed(head)
}
