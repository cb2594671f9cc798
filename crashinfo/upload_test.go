// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/protocol"
)

func testCrashInfo(t *testing.T) *CrashInfo {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.WithKind(KindPanic))
	b.WithMessage(`Process panicked with message "boom"`)
	return b.Build()
}

func TestFileUploader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	up, err := NewUploader(context.Background(), config.FileEndpoint(path))
	require.NoError(t, err)

	ci := testCrashInfo(t)
	require.NoError(t, up.Upload(context.Background(), ci))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got CrashInfo
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ci.UUID, got.UUID)
	assert.Equal(t, KindPanic, got.Error.Kind)
}

func TestUploadPing(t *testing.T) {
	md := config.Metadata{LibraryName: "lib", LibraryVersion: "1.2.3", Family: "go"}
	si := protocol.NewSigInfo(11, 0)
	ping := NewCrashPing("0f8fad5b-d9cb-469f-a165-70867728950e", md, &si)
	assert.Equal(t, PingKind, ping.Kind)
	assert.Equal(t, "Crashtracker crash ping: crash processing started - "+
		"Process terminated with SI_USER (SIGSEGV)", ping.Message)

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		up, err := NewUploader(context.Background(), config.FileEndpoint(path))
		require.NoError(t, err)
		require.NoError(t, up.UploadPing(context.Background(), ping))

		assert.NoFileExists(t, path)
		data, err := os.ReadFile(path + ".ping")
		require.NoError(t, err)
		var got CrashPing
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, ping.CrashUUID, got.CrashUUID)
		assert.Equal(t, "lib", got.Metadata.LibraryName)
		require.NotNil(t, got.SigInfo)
		assert.Equal(t, si.SignoHumanReadable, got.SigInfo.SignoHumanReadable)
	})

	t.Run("s3", func(t *testing.T) {
		putter := &fakePutter{}
		up := newS3Uploader(putter, "bucket", "crashes")
		require.NoError(t, up.UploadPing(context.Background(), ping))
		require.NotNil(t, putter.input)
		assert.Equal(t, "crashes/"+ping.CrashUUID+".ping.json", *putter.input.Key)
		assert.Contains(t, string(putter.body), PingKind)
	})
}

func TestHTTPUploader(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		dec, err := zstd.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer dec.Close()
		gotBody, _ = io.ReadAll(dec)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	up, err := NewUploader(context.Background(), &config.Endpoint{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	ci := testCrashInfo(t)
	require.NoError(t, up.Upload(context.Background(), ci))

	assert.Equal(t, "zstd", gotHeaders.Get("Content-Encoding"))
	assert.Equal(t, "secret", gotHeaders.Get("DD-API-KEY"))
	assert.True(t, strings.HasPrefix(gotHeaders.Get("User-Agent"), "crashtracker-receiver/"))
	var got CrashInfo
	require.NoError(t, json.Unmarshal(gotBody, &got))
	assert.Equal(t, ci.UUID, got.UUID)
}

func TestHTTPUploaderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	up, err := NewHTTPUploader(srv.URL, "", srv.Client())
	require.NoError(t, err)
	require.Error(t, up.Upload(context.Background(), testCrashInfo(t)))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput,
	_ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Uploader(t *testing.T) {
	tests := map[string]struct {
		prefix  string
		putErr  error
		wantKey func(uuid string) string
	}{
		"with prefix": {
			prefix:  "/crashes/",
			wantKey: func(uuid string) string { return "crashes/" + uuid + ".json" },
		},
		"bucket root": {
			wantKey: func(uuid string) string { return uuid + ".json" },
		},
		"put fails": {
			prefix:  "x",
			putErr:  errors.New("denied"),
			wantKey: func(uuid string) string { return "x/" + uuid + ".json" },
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			putter := &fakePutter{err: tc.putErr}
			up := newS3Uploader(putter, "bucket", tc.prefix)
			ci := testCrashInfo(t)

			err := up.Upload(context.Background(), ci)
			if tc.putErr != nil {
				require.ErrorIs(t, err, tc.putErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, putter.input)
			assert.Equal(t, "bucket", *putter.input.Bucket)
			assert.Equal(t, tc.wantKey(ci.UUID), *putter.input.Key)
			assert.NotEmpty(t, *putter.input.ChecksumSHA256)
			assert.Contains(t, string(putter.body), ci.UUID)
		})
	}
}

func TestNewUploaderErrors(t *testing.T) {
	tests := map[string]*config.Endpoint{
		"nil":    nil,
		"scheme": {URL: "ftp://host/x"},
		"bucket": {URL: "s3:///prefix"},
	}
	for name, ep := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewUploader(context.Background(), ep)
			require.Error(t, err)
		})
	}
}
