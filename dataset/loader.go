package dataset

// Loader slices a dataset into fixed-size batches in input order, reporting
// cumulative progress after each batch.
type Loader struct {
	ds        *Dataset
	batchSize int
	progress  func(processed, total int)
}

// NewLoader builds a loader. A batch size below 1 yields the whole dataset
// as one batch. The progress callback may be nil.
func NewLoader(ds *Dataset, batchSize int, progress func(processed, total int)) *Loader {
	if batchSize < 1 {
		batchSize = ds.Len()
		if batchSize < 1 {
			batchSize = 1
		}
	}
	return &Loader{ds: ds, batchSize: batchSize, progress: progress}
}

// Batches materializes all batches, invoking the progress callback after
// each one with (items processed so far, total items).
func (l *Loader) Batches() [][]Item {
	items := l.ds.Items()
	total := len(items)
	var batches [][]Item
	for start := 0; start < total; start += l.batchSize {
		end := start + l.batchSize
		if end > total {
			end = total
		}
		batches = append(batches, items[start:end])
		if l.progress != nil {
			l.progress(end, total)
		}
	}
	return batches
}
