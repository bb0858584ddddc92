package flash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ec.go/pkg/update"
)

func openStores(t *testing.T, size int) map[string]Store {
	sq, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "flash.db"), int64(size))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"mem":    NewMemStore(size),
		"sqlite": sq,
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestStores(t *testing.T) {
	for name, store := range openStores(t, 3*PageSize) {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, int64(3*PageSize), store.Size())
			buf := make([]byte, 16)
			_, err := store.ReadAt(buf, 100)
			require.NoError(t, err)
			require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
				0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, buf)

			// Spans the first page boundary.
			data := pattern(PageSize, 3)
			n, err := store.WriteAt(data, PageSize-10)
			require.NoError(t, err)
			require.Equal(t, len(data), n)

			got := make([]byte, len(data)+20)
			_, err = store.ReadAt(got, PageSize-20)
			require.NoError(t, err)
			require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, got[:10])
			require.Equal(t, data, got[10:10+len(data)])
			require.Equal(t, byte(0xff), got[len(got)-1])

			_, err = store.WriteAt([]byte{1}, 3*PageSize)
			require.Equal(t, ErrOutOfRange, err)
			_, err = store.ReadAt(buf, -1)
			require.Equal(t, ErrOutOfRange, err)
		})
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.db")
	s, err := OpenSQLiteStore(path, DefaultSize)
	require.NoError(t, err)
	_, err = s.WriteAt([]byte("persisted"), 0x20010)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path, DefaultSize)
	require.NoError(t, err)
	defer s.Close()
	buf := make([]byte, 9)
	_, err = s.ReadAt(buf, 0x20010)
	require.NoError(t, err)
	require.Equal(t, "persisted", string(buf))
}

func TestEngineStart(t *testing.T) {
	e := NewEngine(NewMemStore(DefaultSize))
	resp := e.Start(0, 0)
	require.Equal(t, update.FirstResponse{
		HeaderType:      update.HeaderTypeCommon,
		ProtocolVersion: update.ProtocolVersion,
		MaxPDUSize:      1024,
		FlashProtection: ProtectRONow,
		Offset:          0x20000,
		Version:         "ec.go_v1.0.0",
	}, resp)

	require.Equal(t, []byte{0}, e.HandleExtra(update.ExtraUnlockRW, nil))
	resp = e.Start(0, 0)
	require.Equal(t, uint32(0), resp.Offset)
	require.Equal(t, uint32(0), resp.FlashProtection)
	require.Equal(t, uint64(2), e.Stats().Sessions)

	require.Equal(t, []byte{0}, e.HandleExtra(update.ExtraStayInRO, nil))
	require.Equal(t, []byte{byte(update.GenError)}, e.HandleExtra(update.ExtraTouchpadInfo, nil))
}

func TestEngineWrite(t *testing.T) {
	payload := pattern(256, 1)
	testCases := []struct {
		name   string
		blk    update.Block
		status update.Status
	}{
		{"no digest", update.Block{Base: 0x20000, Data: payload}, update.Success},
		{"digest", update.Block{Base: 0x30000, Digest: update.BlockDigest(0x30000, payload), Data: payload}, update.Success},
		{"bad digest", update.Block{Base: 0x30000, Digest: 0x12345678, Data: payload}, update.DataError},
		{"digest of other base", update.Block{Base: 0x30100, Digest: update.BlockDigest(0x30000, payload), Data: payload}, update.DataError},
		{"past end", update.Block{Base: DefaultSize - 16, Data: payload}, update.BadAddr},
		{"protected", update.Block{Base: 0x1000, Data: payload}, update.WriteFailure},
	}
	for name, store := range openStores(t, DefaultSize) {
		t.Run(name, func(t *testing.T) {
			for _, tc := range testCases {
				t.Run(tc.name, func(t *testing.T) {
					e := NewEngine(store)
					require.Equal(t, tc.status, e.Write(tc.blk))
					if tc.status != update.Success {
						require.Equal(t, uint64(1), e.Stats().Failures)
						return
					}
					got := make([]byte, len(payload))
					_, err := e.Read(got, int64(tc.blk.Base))
					require.NoError(t, err)
					require.Equal(t, payload, got)
					require.Equal(t, Stats{Blocks: 1, Bytes: 256}, e.Stats())
				})
			}
		})
	}
}

type badStore struct {
	*MemStore
}

func (s badStore) WriteAt(p []byte, off int64) (int, error) {
	q := append([]byte(nil), p...)
	q[0] ^= 0xff
	return s.MemStore.WriteAt(q, off)
}

func TestEngineVerify(t *testing.T) {
	e := NewEngine(badStore{NewMemStore(DefaultSize)})
	require.Equal(t, update.VerifyError, e.Write(update.Block{Base: 0x20000, Data: []byte{1, 2, 3}}))
}
