package reports

import "adminreports/pkg/contracts/domain"

// Split cuts records into consecutive chunks of at most size records.
// A size of zero or less yields exactly one chunk holding every record.
func Split[T any](records []T, size int) []domain.Chunk[T] {
	if size <= 0 || len(records) <= size {
		if size > 0 && len(records) == 0 {
			return nil
		}
		return []domain.Chunk[T]{{Index: 1, Total: 1, Records: records}}
	}

	total := (len(records) + size - 1) / size
	chunks := make([]domain.Chunk[T], 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(records))
		chunks = append(chunks, domain.Chunk[T]{
			Index:   i + 1,
			Total:   total,
			Records: records[i*size : end],
		})
	}
	return chunks
}
