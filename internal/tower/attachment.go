package tower

import "fmt"

// CalculateAttachment returns the loss amount lower layers must exhaust
// before layers[idx] responds, using DefaultAnchorCarrier.
func CalculateAttachment(layers []Layer, idx int) (int64, error) {
	return defaultNamer.Attachment(layers, idx)
}

// Attachment returns the attachment point of layers[idx].
//
// Quota-share members attach where their group starts, and a group counts
// its notional size once toward the layers above it.
//
// Anchor carrier at index 0: when layers[0] belongs to the anchor carrier,
// carries no retention of its own, and other layers are present, the anchor
// layer is priced as sitting above every other layer. Its attachment is the
// combined size of all other layers, and those layers do not count it when
// summing what sits below them.
func (n *Namer) Attachment(layers []Layer, idx int) (int64, error) {
	gs, err := groups(layers)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(layers) {
		return 0, &InvalidTowerStructureError{Index: idx, Reason: fmt.Sprintf("layer index out of range (tower has %d layers)", len(layers))}
	}

	anchorFirst := n.anchorSitsAbove(layers)
	if idx == 0 {
		if !anchorFirst {
			return 0, nil
		}
		var total int64
		for _, g := range gs {
			if g.start != 0 {
				total += g.size
			}
		}
		return total, nil
	}

	target := groupOf(gs, idx)
	var total int64
	for _, g := range gs {
		if g.start >= target.start {
			break
		}
		if anchorFirst && g.start == 0 {
			continue
		}
		total += g.size
	}
	return total, nil
}

// Attachments returns the attachment point of every layer in order.
func (n *Namer) Attachments(layers []Layer) ([]int64, error) {
	out := make([]int64, len(layers))
	for i := range layers {
		a, err := n.Attachment(layers, i)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// TowerLimit returns the total size of the tower, counting each quota-share
// group once at its notional size.
func TowerLimit(layers []Layer) (int64, error) {
	gs, err := groups(layers)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, g := range gs {
		total += g.size
	}
	return total, nil
}

func (n *Namer) anchorSitsAbove(layers []Layer) bool {
	return len(layers) > 1 && n.isAnchor(layers[0]) && layers[0].Retention == 0
}

// groupOf returns the group containing layer idx.
func groupOf(gs []group, idx int) group {
	for _, g := range gs {
		if idx >= g.start && idx <= g.end {
			return g
		}
	}
	return group{start: idx, end: idx}
}
