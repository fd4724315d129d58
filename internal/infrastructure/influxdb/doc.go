// Package influxdb records stream datapoints in InfluxDB.
//
// Every recorded value is a point in the "datapoints" measurement, tagged
// with the levels of its stream topic and timestamped from the datapoint:
//
//	datapoints,user=alice,device=phone,stream=battery value=87
//	datapoints,user=alice,device=door,stream=locked state=true
//
// Values that are neither numbers nor booleans are skipped and counted.
//
//	rec, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	rec.WriteDatapoint("alice/phone/battery", 87.0, dp.Time())
//
// Writes are batched; batch failures reach the SetOnError callback and the
// WriteErrors counter of Stats.
package influxdb
