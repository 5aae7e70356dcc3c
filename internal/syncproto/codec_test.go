package syncproto_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
	"github.com/okian/hrvlink/internal/syncproto"
	. "github.com/smartystreets/goconvey/convey"
)

const sampleID = "0b7d1f8e-5c1e-4a52-8f4e-2d9b6a3c7e11"

func TestEncode(t *testing.T) {
	Convey("Given an EventFinalized message", t, func() {
		start := time.Date(2024, 5, 1, 8, 0, 0, 123_000_000, time.UTC)
		m := syncproto.EventFinalized{Event: model.Event{
			ID:        uuid.MustParse(sampleID),
			StartTime: start,
			EndTime:   start.Add(42 * time.Second),
		}}

		Convey("When it is encoded", func() {
			payload, err := syncproto.Encode(m)
			So(err, ShouldBeNil)

			var fields map[string]any
			So(json.Unmarshal(payload, &fields), ShouldBeNil)

			Convey("Then it carries the stable field names and millisecond UTC times", func() {
				So(fields["Kind"], ShouldEqual, "EventEnded")
				So(fields["Event"], ShouldEqual, "EventEnded")
				So(fields["EventID"], ShouldEqual, sampleID)
				So(fields["StartTime"], ShouldEqual, "2024-05-01T08:00:00.123Z")
				So(fields["EndTime"], ShouldEqual, "2024-05-01T08:00:42.123Z")
				So(fields, ShouldNotContainKey, "IsConfirmed")
			})
		})
	})

	Convey("Given a HeartRateSample", t, func() {
		m := syncproto.HeartRateSample{HeartRate: 72, Timestamp: time.Unix(1_700_000_000, 500_000_000)}

		payload, err := syncproto.Encode(m)
		So(err, ShouldBeNil)

		var fields map[string]any
		So(json.Unmarshal(payload, &fields), ShouldBeNil)

		Convey("Then Timestamp is epoch seconds", func() {
			So(fields["HeartRate"], ShouldEqual, 72.0)
			So(fields["Timestamp"], ShouldEqual, 1_700_000_000.5)
		})
	})

	Convey("Given a ModeChange with mock off", t, func() {
		payload, err := syncproto.Encode(syncproto.ModeChange{IsMockMode: false})
		So(err, ShouldBeNil)

		Convey("Then the false flag is still written", func() {
			So(string(payload), ShouldContainSubstring, `"isMockMode":false`)
		})
	})
}

func TestDecodeUntagged(t *testing.T) {
	Convey("Given payloads from a peer that does not write Kind", t, func() {
		Convey("When a heart rate sample arrives", func() {
			m, err := syncproto.Decode([]byte(`{"HeartRate":70,"Timestamp":1700000000}`))

			Convey("Then it is a HeartRateSample", func() {
				So(err, ShouldBeNil)
				s, ok := m.(syncproto.HeartRateSample)
				So(ok, ShouldBeTrue)
				So(s.HeartRate, ShouldEqual, 70.0)
			})
		})

		Convey("When a mode flag arrives", func() {
			m, err := syncproto.Decode([]byte(`{"isMockMode":false}`))

			Convey("Then it is a ModeChange", func() {
				So(err, ShouldBeNil)
				So(m, ShouldResemble, syncproto.ModeChange{IsMockMode: false})
			})
		})

		Convey("When an ended event arrives", func() {
			m, err := syncproto.Decode([]byte(`{"Event":"EventEnded","EventID":"` + sampleID + `","StartTime":"2024-05-01T08:00:00.000Z","EndTime":"2024-05-01T08:00:30.000Z"}`))

			Convey("Then it is an EventFinalized", func() {
				So(err, ShouldBeNil)
				f, ok := m.(syncproto.EventFinalized)
				So(ok, ShouldBeTrue)
				So(f.Event.ID.String(), ShouldEqual, sampleID)
				So(f.Event.Duration(), ShouldEqual, 30*time.Second)
			})
		})

		Convey("When a handled event arrives", func() {
			m, err := syncproto.Decode([]byte(`{"Event":"EventHandled","EventID":"` + sampleID + `","IsConfirmed":false}`))

			Convey("Then it is an EventHandled", func() {
				So(err, ShouldBeNil)
				h, ok := m.(syncproto.EventHandled)
				So(ok, ShouldBeTrue)
				So(h.IsConfirmed, ShouldBeFalse)
			})
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Given well-formed payloads", t, func() {
		Convey("When an EventHandled arrives", func() {
			m, err := syncproto.Decode([]byte(`{"Kind":"EventHandled","Event":"EventHandled","EventID":"` + sampleID + `","IsConfirmed":true}`))

			Convey("Then it decodes to the typed variant", func() {
				So(err, ShouldBeNil)
				h, ok := m.(syncproto.EventHandled)
				So(ok, ShouldBeTrue)
				So(h.EventID.String(), ShouldEqual, sampleID)
				So(h.IsConfirmed, ShouldBeTrue)
			})
		})

		Convey("When an EventEnded uses whole-second timestamps with an offset", func() {
			m, err := syncproto.Decode([]byte(`{"Kind":"EventEnded","EventID":"` + sampleID + `","StartTime":"2024-05-01T10:00:00+02:00","EndTime":"2024-05-01T08:01:00Z"}`))

			Convey("Then it is accepted without the Event tag", func() {
				So(err, ShouldBeNil)
				f := m.(syncproto.EventFinalized)
				So(f.Event.StartTime.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(f.Event.Duration(), ShouldEqual, time.Minute)
			})
		})

		Convey("When a HeartRateSample arrives", func() {
			m, err := syncproto.Decode([]byte(`{"Kind":"HeartRateSample","HeartRate":64.5,"Timestamp":1700000000.25}`))

			Convey("Then the epoch timestamp is restored", func() {
				So(err, ShouldBeNil)
				s := m.(syncproto.HeartRateSample)
				So(s.HeartRate, ShouldEqual, 64.5)
				So(s.Timestamp.Equal(time.Unix(1_700_000_000, 250_000_000)), ShouldBeTrue)
			})
		})

		Convey("When an encoded event is decoded again", func() {
			e := model.Event{
				ID:        uuid.New(),
				StartTime: time.Date(2024, 5, 1, 8, 0, 0, 456_000_000, time.UTC),
				EndTime:   time.Date(2024, 5, 1, 8, 3, 0, 789_000_000, time.UTC),
			}
			payload, err := syncproto.Encode(syncproto.EventFinalized{Event: e})
			So(err, ShouldBeNil)
			m, err := syncproto.Decode(payload)

			Convey("Then identity and millisecond times survive", func() {
				So(err, ShouldBeNil)
				got := m.(syncproto.EventFinalized).Event
				So(got.ID, ShouldEqual, e.ID)
				So(got.StartTime.Equal(e.StartTime), ShouldBeTrue)
				So(got.EndTime.Equal(e.EndTime), ShouldBeTrue)
			})
		})
	})

	Convey("Given malformed payloads", t, func() {
		cases := []struct {
			name    string
			payload string
			want    error
		}{
			{"not json", `{"Kind":`, syncproto.ErrMalformed},
			{"empty object", `{}`, syncproto.ErrMalformed},
			{"untagged sample mixed with mode", `{"HeartRate":70,"Timestamp":1,"isMockMode":true}`, syncproto.ErrMalformed},
			{"untagged mode mixed with event", `{"isMockMode":false,"Event":"EventHandled","EventID":"` + sampleID + `","IsConfirmed":true}`, syncproto.ErrMalformed},
			{"untagged event fields without tag", `{"EventID":"` + sampleID + `","IsConfirmed":true}`, syncproto.ErrMalformed},
			{"untagged unknown event tag", `{"Event":"EventStarted","EventID":"` + sampleID + `"}`, syncproto.ErrUnknownKind},
			{"untagged sample missing timestamp", `{"HeartRate":70}`, syncproto.ErrMalformed},
			{"unknown kind", `{"Kind":"Ping"}`, syncproto.ErrUnknownKind},
			{"heart rate without timestamp", `{"Kind":"HeartRateSample","HeartRate":70}`, syncproto.ErrMalformed},
			{"zero heart rate", `{"Kind":"HeartRateSample","HeartRate":0,"Timestamp":1}`, syncproto.ErrMalformed},
			{"negative heart rate", `{"Kind":"HeartRateSample","HeartRate":-5,"Timestamp":1}`, syncproto.ErrMalformed},
			{"mode without flag", `{"Kind":"ModeChange"}`, syncproto.ErrMalformed},
			{"mode flag wrong type", `{"Kind":"ModeChange","isMockMode":"yes"}`, syncproto.ErrMalformed},
			{"bad uuid", `{"Kind":"EventHandled","EventID":"abc","IsConfirmed":true}`, syncproto.ErrMalformed},
			{"nil uuid", `{"Kind":"EventHandled","EventID":"00000000-0000-0000-0000-000000000000","IsConfirmed":true}`, syncproto.ErrMalformed},
			{"handled without verdict", `{"Kind":"EventHandled","EventID":"` + sampleID + `"}`, syncproto.ErrMalformed},
			{"tag disagrees with kind", `{"Kind":"EventHandled","Event":"EventEnded","EventID":"` + sampleID + `","IsConfirmed":false}`, syncproto.ErrMalformed},
			{"missing end time", `{"Kind":"EventEnded","EventID":"` + sampleID + `","StartTime":"2024-05-01T08:00:00.000Z"}`, syncproto.ErrMalformed},
			{"unparsable start", `{"Kind":"EventEnded","EventID":"` + sampleID + `","StartTime":"yesterday","EndTime":"2024-05-01T08:00:00.000Z"}`, syncproto.ErrMalformed},
			{"end before start", `{"Kind":"EventEnded","EventID":"` + sampleID + `","StartTime":"2024-05-01T08:00:01.000Z","EndTime":"2024-05-01T08:00:00.000Z"}`, syncproto.ErrMalformed},
		}

		for _, tc := range cases {
			Convey("When decoding "+tc.name, func() {
				m, err := syncproto.Decode([]byte(tc.payload))

				Convey("Then the whole message is rejected", func() {
					So(m, ShouldBeNil)
					So(errors.Is(err, tc.want), ShouldBeTrue)
				})
			})
		}
	})
}
