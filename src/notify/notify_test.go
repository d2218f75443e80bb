// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRender(t *testing.T) {
	Convey("Rendering templates", t, func() {
		Convey("Values are substituted and escaped", func() {
			res, err := Render("Hello {{ partner.name }}, you owe {{ amount|floatformat:2 }}", map[string]interface{}{
				"partner": map[string]interface{}{"name": "<Agrolait>"},
				"amount":  12.5,
			})
			So(err, ShouldBeNil)
			So(res, ShouldEqual, "Hello &lt;Agrolait&gt;, you owe 12.50")
		})
		Convey("Syntax errors are validation errors", func() {
			_, err := Render("Hello {% if %}", nil)
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindValidation)
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_template")
		})
		Convey("Checking a template does not execute it", func() {
			So(Check(`Due on {{ object.date_deadline|date:"2006-01-02" }}`), ShouldBeNil)
			So(exceptions.CodeOf(Check("Hello {{ name ")), ShouldEqual, "invalid_template")
			_, err := Render(`Due on {{ object.date_deadline|date:"2006-01-02" }}`, nil)
			So(exceptions.CodeOf(err), ShouldEqual, "template_error")
		})
		Convey("Named templates can be included", func() {
			ts := NewTemplateSet()
			So(ts.Register("signature", "-- {{ company }}"), ShouldBeNil)
			res, err := ts.Render(`Bye{% include "signature" %}`, map[string]interface{}{"company": "ACME"})
			So(err, ShouldBeNil)
			So(res, ShouldEqual, "Bye-- ACME")
			res, err = ts.RenderNamed("signature", map[string]interface{}{"company": "NDP"})
			So(err, ShouldBeNil)
			So(res, ShouldEqual, "-- NDP")
			_, err = ts.RenderNamed("unknown", nil)
			So(exceptions.CodeOf(err), ShouldEqual, "unknown_template")
		})
	})
}

func TestSend(t *testing.T) {
	Convey("Sending notifications", t, func() {
		var received []Message
		RegisterProvider("test", ProviderFunc(func(ctx context.Context, msg Message) error {
			received = append(received, msg)
			return nil
		}))
		RegisterProvider("broken", ProviderFunc(func(ctx context.Context, msg Message) error {
			return errors.New("gateway down")
		}))
		tpl := Template{Channel: "test", Subject: " Order {{ name }} ", Body: "Dear {{ customer }}"}
		Convey("A composed message is handed to the channel provider", func() {
			msg, err := tpl.Compose([]string{"a@example.com"}, map[string]interface{}{"name": "SO001", "customer": "Bob"})
			So(err, ShouldBeNil)
			So(msg.Subject, ShouldEqual, "Order SO001")
			So(msg.Body, ShouldEqual, "Dear Bob")
			So(Send(context.Background(), msg), ShouldBeNil)
			So(received, ShouldHaveLength, 1)
			So(received[0].Recipients, ShouldResemble, []string{"a@example.com"})
		})
		Convey("Default channels log messages", func() {
			So(Channels(), ShouldContain, ChannelEmail)
			So(Channels(), ShouldContain, ChannelSMS)
			err := Send(context.Background(), Message{Channel: ChannelSMS, Recipients: []string{"+33600000000"}, Body: "hi"})
			So(err, ShouldBeNil)
		})
		Convey("Errors are reported", func() {
			err := Send(context.Background(), Message{Channel: "pigeon", Recipients: []string{"x"}})
			So(exceptions.CodeOf(err), ShouldEqual, "unknown_channel")
			err = Send(context.Background(), Message{Channel: "test"})
			So(exceptions.CodeOf(err), ShouldEqual, "no_recipient")
			err = Send(context.Background(), Message{Channel: "broken", Recipients: []string{"x"}})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "gateway down")
		})
	})
}
