// Package datasets provides simulated designs for the dml models and reads
// observational tables from CSV or XLSX files.
//
// Every generator takes an explicit seed and draws from a single PCG stream,
// so the same arguments always produce the same sample:
//
//	sim, err := datasets.MakePLR(500, 20, 0.5, 42)
//	if err != nil {
//	    return err
//	}
//	data, err := sim.Data()
package datasets
