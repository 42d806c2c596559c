package runner

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// harvestArtifacts stages every declared artifact as a zip archive on
// local disk. Only declared paths are collected, and a declaration that
// matches nothing fails the run. The caller removes the staged archives
// once they are uploaded.
func harvestArtifacts(ex *execution) ([]*model.HarvestedArtifact, error) {
	var artifacts []*model.HarvestedArtifact

	cleanup := func() {
		for _, a := range artifacts {
			_ = os.Remove(a.ArchivePath)
		}
	}

	for _, spec := range ex.job.Artifacts {
		artifact, err := harvestOne(ex, spec)
		if err != nil {
			cleanup()
			return nil, err
		}
		artifacts = append(artifacts, artifact)

		fmt.Fprintf(ex.log, "harvested artifact %q (%d files, %d bytes)\n",
			artifact.Name, artifact.Files, artifact.SizeBytes)
	}
	return artifacts, nil
}

func harvestOne(ex *execution, spec *model.ArtifactSpec) (*model.HarvestedArtifact, error) {
	files, err := resolveArtifactFiles(ex.workspace, spec)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "drover-artifact-*.zip")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create artifact archive",
			goerr.V("artifact", spec.Name))
	}

	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hash := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(tmp, hash))

	for _, file := range files {
		if err := addToArchive(zw, ex.workspace, file); err != nil {
			return nil, goerr.Wrap(err, "failed to archive file",
				goerr.V("artifact", spec.Name), goerr.V("file", file))
		}
	}

	if err := zw.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to finalize artifact archive",
			goerr.V("artifact", spec.Name))
	}
	if err := tmp.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to close artifact archive",
			goerr.V("artifact", spec.Name))
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat artifact archive",
			goerr.V("artifact", spec.Name))
	}

	ok = true
	return &model.HarvestedArtifact{
		Name:        spec.Name,
		Path:        spec.Path,
		ArchivePath: tmp.Name(),
		Digest:      hex.EncodeToString(hash.Sum(nil)),
		SizeBytes:   info.Size(),
		Files:       len(files),
	}, nil
}

// resolveArtifactFiles expands the declared path into workspace files.
// The list is sorted so archives come out the same regardless of
// filesystem ordering.
func resolveArtifactFiles(workspace string, spec *model.ArtifactSpec) ([]string, error) {
	pattern := filepath.Join(workspace, filepath.FromSlash(spec.Path))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid artifact path pattern",
			goerr.V("artifact", spec.Name), goerr.V("path", spec.Path),
			goerr.T(types.ErrTagValidation))
	}
	if len(matches) == 0 {
		return nil, goerr.New(
			fmt.Sprintf("artifact %q matched no files (path %q)", spec.Name, spec.Path),
			goerr.T(types.ErrTagValidation))
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to stat artifact file",
				goerr.V("artifact", spec.Name), goerr.V("file", match))
		}

		if info.IsDir() {
			err := filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !d.Type().IsRegular() {
					return nil
				}
				files = append(files, path)
				return nil
			})
			if err != nil {
				return nil, goerr.Wrap(err, "failed to walk artifact directory",
					goerr.V("artifact", spec.Name), goerr.V("dir", match))
			}
		} else if info.Mode().IsRegular() {
			files = append(files, match)
		}
	}

	if len(files) == 0 {
		return nil, goerr.New(
			fmt.Sprintf("artifact %q matched no regular files (path %q)", spec.Name, spec.Path),
			goerr.T(types.ErrTagValidation))
	}

	// A matched path may be a symlink pointing outside the workspace.
	root, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve workspace path",
			goerr.V("workspace", workspace))
	}
	for _, file := range files {
		resolved, err := filepath.EvalSymlinks(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve artifact file",
				goerr.V("artifact", spec.Name), goerr.V("file", file))
		}
		if !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
			return nil, goerr.New(
				fmt.Sprintf("artifact %q escapes the workspace (file %q)", spec.Name, file),
				goerr.T(types.ErrTagValidation))
		}
	}

	sort.Strings(files)
	return files, nil
}

func addToArchive(zw *zip.Writer, workspace, file string) error {
	rel, err := filepath.Rel(workspace, file)
	if err != nil {
		return err
	}

	info, err := os.Stat(file)
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
