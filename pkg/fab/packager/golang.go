/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package packager bundles a chaincode source tree into the TAR.GZ archive
// carried by an install proposal.
package packager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/op/go-logging"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

var logger = logging.MustGetLogger("fabric_client_go")

// descriptor pairs the archive entry name with the file's location on disk.
type descriptor struct {
	name string
	fqp  string
}

// Only source files travel in the install payload.
var keep = []string{".go", ".c", ".h", ".s", ".mod", ".sum", ".json", ".yaml", ".yml"}

// PackageGoChaincode archives the Go chaincode at chaincodePath, resolved
// under $GOPATH/src the way the peer resolves it at build time. Entry names
// are relative to GOPATH, mode bits are canonicalized to 0644/0755 and all
// timestamps are zeroed so equal trees produce equal archives.
func PackageGoChaincode(chaincodePath string) ([]byte, error) {
	if chaincodePath == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"chaincode path is required", nil)
	}
	goPath := os.Getenv("GOPATH")
	if goPath == "" {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"GOPATH environment variable is not set", nil)
	}

	projDir := path.Join(goPath, "src", chaincodePath)
	logger.Debugf("Packaging chaincode from %s", projDir)

	descriptors, err := findSource(goPath, projDir)
	if err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"walking chaincode source tree failed: "+err.Error(), nil)
	}
	if len(descriptors) == 0 {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"no source files found under "+projDir, nil)
	}
	return generateTarGz(descriptors)
}

func findSource(basePath, filePath string) ([]*descriptor, error) {
	var descriptors []*descriptor
	err := filepath.Walk(filePath, func(p string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fileInfo.Mode().IsRegular() || !isSource(p) {
			return nil
		}
		relPath, err := filepath.Rel(basePath, p)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, &descriptor{name: filepath.ToSlash(relPath), fqp: p})
		return nil
	})
	return descriptors, err
}

func isSource(filePath string) bool {
	ext := filepath.Ext(filePath)
	for _, v := range keep {
		if v == ext {
			return true
		}
	}
	return false
}

func generateTarGz(descriptors []*descriptor) ([]byte, error) {
	var codePackage bytes.Buffer
	gw := gzip.NewWriter(&codePackage)
	tw := tar.NewWriter(gw)
	for _, d := range descriptors {
		if err := packEntry(tw, d); err != nil {
			tw.Close()
			gw.Close()
			return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
				"packaging "+d.fqp+" failed: "+err.Error(), nil)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"closing archive failed: "+err.Error(), nil)
	}
	if err := gw.Close(); err != nil {
		return nil, status.New(status.ClientStatus, status.InvalidArgument.ToInt32(),
			"closing archive failed: "+err.Error(), nil)
	}
	return codePackage.Bytes(), nil
}

func packEntry(tw *tar.Writer, d *descriptor) error {
	file, err := os.Open(d.fqp)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name: d.name,
		Size: stat.Size(),
		Mode: canonicalMode(stat.Mode()),
		// Zero all date fields so the archive is deterministic.
		ModTime:    time.Time{},
		AccessTime: time.Time{},
		ChangeTime: time.Time{},
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// canonicalMode collapses file permissions to 0755 for executables and 0644
// for everything else.
func canonicalMode(mode os.FileMode) int64 {
	if mode&0100 != 0 {
		return 0755
	}
	return 0644
}
