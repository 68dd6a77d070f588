/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"github.com/wiretun-dev/wiretun/conn"
	"github.com/wiretun-dev/wiretun/rwcancel"
)

// startRouteListener is a hook for watching host routing-table
// changes so that a cached peer source address can be invalidated
// when the interface it was learned on goes away. Programming the
// host's routing table is out of scope for this engine; this hook
// only needs to exist so BindUpdate has something to cancel on
// rebind. Platforms that do want to watch the kernel's route table
// (Linux, via rwcancel+netlink) can replace this with a real listener
// without changing BindUpdate.
func (device *Device) startRouteListener(bind conn.Bind) (*rwcancel.RWCancel, error) {
	return nil, nil
}
