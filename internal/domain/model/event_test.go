package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBeat(t *testing.T) {
	Convey("Given a beat", t, func() {
		Convey("When the rate is 60 bpm", func() {
			b := model.Beat{HeartRate: 60, Timestamp: time.Unix(0, 0)}

			Convey("Then the IBI is one second", func() {
				So(b.IBI(), ShouldEqual, 1000.0)
			})
		})

		Convey("When the rate is 80 bpm", func() {
			b := model.Beat{HeartRate: 80}

			Convey("Then the IBI is 750 ms", func() {
				So(b.IBI(), ShouldEqual, 750.0)
			})
		})
	})
}

func TestEvent(t *testing.T) {
	Convey("Given an event", t, func() {
		start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		e := model.Event{ID: uuid.New(), StartTime: start, EndTime: start.Add(90 * time.Second)}

		Convey("Then its duration spans start to end", func() {
			So(e.Duration(), ShouldEqual, 90*time.Second)
		})

		Convey("Then a fresh event is pending", func() {
			So(e.Confirmation, ShouldEqual, model.ConfirmationPending)
			So(e.Confirmation.String(), ShouldEqual, "pending")
		})
	})

	Convey("Given a wire confirmation flag", t, func() {
		So(model.ConfirmationFor(true), ShouldEqual, model.ConfirmationConfirmed)
		So(model.ConfirmationFor(false), ShouldEqual, model.ConfirmationDismissed)
		So(model.ConfirmationFor(false).String(), ShouldEqual, "dismissed")
	})
}
