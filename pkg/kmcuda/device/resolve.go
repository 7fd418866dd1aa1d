package device

// Resolve expands a device bitmask into the ordered list of usable device
// indices. Bit i of mask requests device i. Each requested device is probed
// with SetDevice; a device that fails its probe is dropped from the result
// rather than failing the whole resolution, so a run can proceed on the
// surviving devices. The caller decides what an empty result means.
//
// The returned list is ordered smallest index first and contains no
// duplicates.
func Resolve(b Backend, mask uint32, logf func(format string, args ...any)) []int {
	var devs []int
	for dev := 0; mask != 0; dev++ {
		if mask&1 != 0 {
			if err := b.SetDevice(dev); err != nil {
				if logf != nil {
					logf("failed to validate device %d: %v\n", dev, err)
				}
			} else {
				devs = append(devs, dev)
			}
		}
		mask >>= 1
	}
	return devs
}
