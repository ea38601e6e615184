package circuits

// ExpandDesign builds the GST experiment list prep + germ^p + meas for every
// maximum length L, where p = L / len(germ) (integer division). Germs longer
// than L are skipped at that L. The fiducial-pair circuits prep + meas come
// first, and duplicates keep their first position.
func ExpandDesign(prep, germs, meas []Circuit, maxLengths []int) []Circuit {
	seen := make(map[string]struct{})
	var out []Circuit
	add := func(c Circuit) {
		if _, dup := seen[c.Key()]; dup {
			return
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}

	for _, p := range prep {
		for _, m := range meas {
			add(p.Concat(m))
		}
	}
	for _, L := range maxLengths {
		for _, g := range germs {
			if g.IsEmpty() {
				continue
			}
			reps := L / g.Len()
			if reps == 0 {
				continue
			}
			body := g.Repeat(reps)
			for _, p := range prep {
				for _, m := range meas {
					add(p.Concat(body, m))
				}
			}
		}
	}
	return out
}
