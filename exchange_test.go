package exchange

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ab180/exchange/buffers"
	"github.com/ab180/exchange/output"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

var testKey = &output.KeyMaterial{
	Key: []byte("0123456789abcdef0123456789abcdef"),
	IV:  []byte("fedcba9876543210"),
}

func newTestManager(t *testing.T, compression bool) *Manager {
	opt := DefaultOptions()
	opt.BaseDir = t.TempDir()
	opt.Output.Compression = compression
	m, err := NewManager(opt)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func readAll(m *Manager, id string, buf buffers.ID, key *output.KeyMaterial) string {
	r, err := m.OpenReader(id, buf, key)
	So(err, ShouldBeNil)
	defer r.Close()
	data, err := io.ReadAll(r)
	So(err, ShouldBeNil)
	return string(data)
}

func TestExchange_Write(t *testing.T) {
	Convey("Given a compressed and encrypted arbitrary exchange", t, func() {
		m := newTestManager(t, true)
		e, err := m.Create("task-1", buffers.Arbitrary, testKey)
		So(err, ShouldBeNil)

		Convey("Writing without destinations should fail", func() {
			err := e.Write("", []byte("page"))
			So(errors.Cause(err), ShouldBeError, buffers.ErrNoDestination)
		})

		Convey("Pages should be distributed in round-robin", func() {
			e.Assigner().AddConsumers([]buffers.ID{1, 2}, false)
			for _, page := range []string{"a", "b", "c", "d"} {
				So(e.Write("", []byte(page)), ShouldBeNil)
			}
			So(e.Finish(context.Background()), ShouldBeNil)

			So(readAll(m, "task-1", 1, testKey), ShouldEqual, "ac")
			So(readAll(m, "task-1", 2, testKey), ShouldEqual, "bd")
			So(e.Metrics()["pages"], ShouldEqual, 4)
		})

		Convey("Buffers added later should receive later pages", func() {
			e.Assigner().AddConsumer(1)
			So(e.Write("", []byte("x")), ShouldBeNil)
			e.Assigner().AddConsumer(2)
			So(e.Destinations().Len(), ShouldEqual, 2)
			So(e.Finish(context.Background()), ShouldBeNil)

			So(readAll(m, "task-1", 1, testKey), ShouldEqual, "x")
			man, err := m.ReadManifest("task-1")
			So(err, ShouldBeNil)
			So(man.Files, ShouldHaveLength, 2)
			So(man.Files[1].Bytes, ShouldEqual, 0)

			// a buffer without pages still gets a file
			_, err = os.Stat(filepath.Join(m.dirOf("task-1"), "buffer-2.data"))
			So(err, ShouldBeNil)
		})

		Convey("Writing after finish should fail", func() {
			e.Assigner().AddConsumer(1)
			So(e.Finish(context.Background()), ShouldBeNil)
			So(e.Write("", []byte("late")), ShouldEqual, ErrExchangeClosed)
			So(e.Finish(context.Background()), ShouldEqual, ErrExchangeClosed)
		})
	})

	Convey("Given a broadcast exchange", t, func() {
		m := newTestManager(t, false)
		e, err := m.Create("task-2", buffers.Broadcast, nil)
		So(err, ShouldBeNil)
		e.Assigner().AddConsumers([]buffers.ID{3, 4, 5}, true)

		Convey("Every buffer should receive every page", func() {
			So(e.Write("", []byte("hello ")), ShouldBeNil)
			So(e.Write("", []byte("world")), ShouldBeNil)
			So(e.Finish(context.Background()), ShouldBeNil)

			for _, id := range []buffers.ID{3, 4, 5} {
				So(readAll(m, "task-2", id, nil), ShouldEqual, "hello world")
			}
			So(e.Metrics()["bytes"], ShouldEqual, 33)
		})
	})

	Convey("Given a partitioned exchange", t, func() {
		m := newTestManager(t, true)
		e, err := m.Create("task-3", buffers.Partitioned, nil)
		So(err, ShouldBeNil)
		e.Assigner().AddConsumers([]buffers.ID{1, 2, 3}, true)

		Convey("Pages with the same key should go to the same buffer", func() {
			for i := 0; i < 5; i++ {
				So(e.Write("user-42", []byte("p")), ShouldBeNil)
			}
			So(e.Finish(context.Background()), ShouldBeNil)

			man, err := m.ReadManifest("task-3")
			So(err, ShouldBeNil)
			So(man.Files, ShouldHaveLength, 3)

			var nonEmpty int
			for _, f := range man.Files {
				if f.Bytes > 0 {
					So(f.Bytes, ShouldEqual, 5)
					nonEmpty++
				}
			}
			So(nonEmpty, ShouldEqual, 1)
		})
	})

	Convey("Given a partitioned exchange still discovering buffers", t, func() {
		m := newTestManager(t, false)
		e, err := m.Create("task-4", buffers.Partitioned, nil)
		So(err, ShouldBeNil)
		e.Assigner().AddConsumers([]buffers.ID{1, 2}, false)

		keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

		Convey("Writes should wait until the buffers are sealed", func() {
			for _, key := range keys {
				err := e.Write(key, []byte(key))
				So(errors.Cause(err), ShouldBeError, buffers.ErrNoDestination)
			}
		})

		Convey("Every key should stay in one buffer after a buffer is added", func() {
			e.Assigner().AddConsumers([]buffers.ID{3}, true)
			for round := 0; round < 2; round++ {
				for _, key := range keys {
					So(e.Write(key, []byte(key)), ShouldBeNil)
				}
			}
			So(e.Finish(context.Background()), ShouldBeNil)

			owners := make(map[rune]buffers.ID)
			for _, id := range []buffers.ID{1, 2, 3} {
				for _, key := range readAll(m, "task-4", id, nil) {
					if owner, ok := owners[key]; ok {
						So(owner, ShouldEqual, id)
					}
					owners[key] = id
				}
			}
			So(owners, ShouldHaveLength, len(keys))
		})
	})
}

func TestExchange_Finish(t *testing.T) {
	Convey("Given a finished exchange", t, func() {
		m := newTestManager(t, true)
		e, err := m.Create("task-1", buffers.Arbitrary, testKey)
		So(err, ShouldBeNil)
		e.Assigner().AddConsumers([]buffers.ID{7}, false)
		So(e.Write("", []byte("abc")), ShouldBeNil)
		So(e.Finish(context.Background()), ShouldBeNil)

		Convey("Its destinations should be sealed", func() {
			So(e.Destinations().IsSealed(), ShouldBeTrue)
			e.Assigner().AddConsumer(8)
			So(e.Destinations().Has(8), ShouldBeFalse)
		})

		Convey("It should be removed from running exchanges", func() {
			_, running := m.Get("task-1")
			So(running, ShouldBeFalse)
		})

		Convey("It should write a manifest", func() {
			man, err := m.ReadManifest("task-1")
			So(err, ShouldBeNil)
			So(man.Exchange, ShouldEqual, "task-1")
			So(man.Layout, ShouldEqual, "compressed+encrypted")
			So(man.Destinations.IsSealed(), ShouldBeTrue)
			So(man.Files, ShouldResemble, []ManifestFile{{Buffer: 7, Name: "buffer-7.data", Bytes: 3}})
		})

		Convey("Stored bytes should not contain the plaintext", func() {
			raw, err := os.ReadFile(filepath.Join(m.dirOf("task-1"), "buffer-7.data"))
			So(err, ShouldBeNil)
			So(string(raw), ShouldNotContainSubstring, "abc")
			So(len(raw)%16, ShouldEqual, 0)
		})

		Convey("Reading with a wrong key should fail", func() {
			wrongKey := &output.KeyMaterial{Key: []byte("ffffffffffffffff"), IV: testKey.IV}
			r, err := m.OpenReader("task-1", 7, wrongKey)
			So(err, ShouldBeNil)
			defer r.Close()
			_, err = io.ReadAll(r)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestExchange_Abort(t *testing.T) {
	Convey("Given an exchange with written pages", t, func() {
		m := newTestManager(t, false)
		e, err := m.Create("task-1", buffers.Broadcast, nil)
		So(err, ShouldBeNil)
		e.Assigner().AddConsumers([]buffers.ID{1, 2}, false)
		So(e.Write("", []byte("page")), ShouldBeNil)

		Convey("Aborting should remove spooled files", func() {
			So(e.Abort(), ShouldBeNil)
			_, err := os.Stat(m.dirOf("task-1"))
			So(os.IsNotExist(err), ShouldBeTrue)
			So(e.Write("", []byte("late")), ShouldEqual, ErrExchangeClosed)

			Convey("Aborting again should be a no-op", func() {
				So(e.Abort(), ShouldBeNil)
			})
		})

		Convey("Aborting after finish should keep spooled files", func() {
			So(e.Finish(context.Background()), ShouldBeNil)
			So(e.Abort(), ShouldBeNil)

			man, err := m.ReadManifest("task-1")
			So(err, ShouldBeNil)
			So(man.Files, ShouldHaveLength, 2)
			So(readAll(m, "task-1", 2, nil), ShouldEqual, "page")

			Convey("Until the exchange is removed", func() {
				So(m.Remove(context.Background(), "task-1"), ShouldBeNil)
				_, err := m.ReadManifest("task-1")
				So(errors.Cause(err), ShouldBeError, ErrExchangeNotFound)
			})
		})

		Convey("Finishing with a cancelled context should leave it open", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := e.Finish(ctx)
			So(errors.Cause(err), ShouldEqual, context.Canceled)

			_, running := m.Get("task-1")
			So(running, ShouldBeTrue)
			So(e.Write("", []byte("more")), ShouldBeNil)
			So(e.Finish(context.Background()), ShouldBeNil)
			So(readAll(m, "task-1", 1, nil), ShouldEqual, "pagemore")
		})

		Convey("Closing the manager should abort it", func() {
			So(m.Close(), ShouldBeNil)
			So(m.Running(), ShouldBeEmpty)
			_, err := os.Stat(m.dirOf("task-1"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})
	})
}
