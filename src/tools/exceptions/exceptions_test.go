// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package exceptions

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestExceptions(t *testing.T) {
	Convey("Testing typed errors", t, func() {
		Convey("Kinds survive wrapping", func() {
			err := errors.Wrap(Validation("required", "Field %s is required", "name"), "creating partner")
			So(KindOf(err), ShouldEqual, KindValidation)
			So(CodeOf(err), ShouldEqual, "required")
			So(err.Error(), ShouldEqual, "creating partner: Field name is required")
		})
		Convey("Untyped errors are system errors", func() {
			So(KindOf(errors.New("boom")), ShouldEqual, KindSystem)
			So(KindOf(nil), ShouldEqual, Kind(""))
			So(System("db", errors.New("boom")).Error(), ShouldEqual, "internal error: boom")
		})
		Convey("HTTP statuses and exit codes", func() {
			So(HTTPStatus(AccessDenied("acl", "no")), ShouldEqual, http.StatusForbidden)
			So(HTTPStatus(NotFound("xmlid", "no")), ShouldEqual, http.StatusNotFound)
			So(HTTPStatus(Conflict("serialization", "retry")), ShouldEqual, http.StatusConflict)
			So(HTTPStatus(errors.New("x")), ShouldEqual, http.StatusInternalServerError)
			So(ExitCode(nil), ShouldEqual, 0)
			So(ExitCode(Validation("x", "x")), ShouldEqual, 2)
			So(ExitCode(errors.New("x")), ShouldEqual, 1)
		})
		Convey("Localize uses the registered translator", func() {
			SetTranslator(func(lang, format string, args ...interface{}) string {
				return lang + ":" + format
			})
			So(Validation("x", "Hello").Localize("fr"), ShouldEqual, "fr:Hello")
		})
	})
}
