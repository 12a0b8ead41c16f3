package medication

// Merge folds a newly extracted partial record into the accumulator. A field
// already known in acc is kept; an unknown one adopts next's value. The name
// keeps the first non-empty value seen. Merging an empty record returns acc
// unchanged.
func Merge(acc, next Record) Record {
	out := acc

	if n, ok := acc.Name.Get(); !ok || n == "" {
		if nn, ok := next.Name.Get(); ok && nn != "" {
			out.Name = next.Name
		}
	}

	fill(&out.BrandName, next.BrandName)
	fill(&out.Strength, next.Strength)
	fill(&out.DosageForm, next.DosageForm)
	fill(&out.Frequency, next.Frequency)
	fill(&out.PrescribedFor, next.PrescribedFor)
	fill(&out.PrescribingDoctor, next.PrescribingDoctor)
	fill(&out.RxNumber, next.RxNumber)
	fill(&out.NDC, next.NDC)
	fill(&out.Quantity, next.Quantity)
	fill(&out.Refills, next.Refills)
	fill(&out.FillDate, next.FillDate)
	fill(&out.ExpirationDate, next.ExpirationDate)
	fill(&out.PharmacyName, next.PharmacyName)
	fill(&out.PharmacyPhone, next.PharmacyPhone)
	fill(&out.Warnings, next.Warnings)
	fill(&out.PatientName, next.PatientName)
	fill(&out.ImageURL, next.ImageURL)
	fill(&out.DrugClass, next.DrugClass)
	fill(&out.RxCUI, next.RxCUI)

	return out
}

func fill[T any](dst *Opt[T], src Opt[T]) {
	if !dst.IsSet() && src.IsSet() {
		*dst = src
	}
}
