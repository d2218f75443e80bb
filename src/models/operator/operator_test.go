// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package operator

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOperators(t *testing.T) {
	Convey("Testing operators", t, func() {
		So(Operator("child_of").IsValid(), ShouldBeFalse)
		So(IContains.IsValid(), ShouldBeTrue)
		So(NotIn.IsMulti(), ShouldBeTrue)
		So(NotIn.IsNegative(), ShouldBeTrue)
		So(ILike.IsContains(), ShouldBeFalse)
		So(NotIContains.IsContains(), ShouldBeTrue)
	})
}
