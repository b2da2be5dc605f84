package aggregate

import (
	"time"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

var asOf = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func enr(state, district, pin string, d time.Time, a0, a5, a18 int64) model.EnrollmentRecord {
	return model.EnrollmentRecord{State: state, District: district, Pincode: pin, Date: d, Age0To5: a0, Age5To17: a5, Age18Plus: a18}
}

func bio(state, district, pin string, d time.Time, a5, a17 int64) model.UpdateRecord {
	return model.UpdateRecord{State: state, District: district, Pincode: pin, Date: d, Type: model.UpdateBiometric,
		Count: a5 + a17, Age5To17: a5, Age17Plus: a17}
}

func demo(state, district, pin string, d time.Time, n int64) model.UpdateRecord {
	return model.UpdateRecord{State: state, District: district, Pincode: pin, Date: d, Type: model.UpdateDemographic, Count: n, Age17Plus: n}
}

// fixture: two states, three districts, five enrolled pincodes plus one
// orphan-update pincode.
//
//	Odisha/Khordha/751001   fresh bio + recent demo
//	Odisha/Khordha/751002   bio before its enrollment, demo 30 months old
//	Odisha/Cuttack/753001   no updates at all
//	Kerala/Ernakulam/682001 bio only, 3 records
//	Kerala/Ernakulam/682002 demo 18 months old
//	Kerala/Ernakulam/682099 orphan biometric update, no enrollment
func fixture() *snapshot.Snapshot {
	enrollments := []model.EnrollmentRecord{
		enr("Odisha", "Khordha", "751001", day(2025, 1, 4), 10, 20, 70),
		enr("Odisha", "Khordha", "751002", day(2025, 2, 1), 5, 5, 40),
		enr("Odisha", "Cuttack", "753001", day(2025, 2, 2), 4, 0, 6),
		enr("Kerala", "Ernakulam", "682001", day(2025, 3, 1), 2, 8, 190),
		enr("Kerala", "Ernakulam", "682002", day(2025, 3, 2), 0, 0, 50),
	}
	biometric := []model.UpdateRecord{
		bio("Odisha", "Khordha", "751001", day(2025, 6, 20), 5, 15),
		bio("Odisha", "Khordha", "751002", day(2025, 1, 1), 1, 1),
		bio("Kerala", "Ernakulam", "682001", day(2025, 7, 10), 0, 4),
		bio("Kerala", "Ernakulam", "682001", day(2025, 8, 10), 0, 4),
		bio("Kerala", "Ernakulam", "682001", day(2025, 1, 10), 0, 2),
		bio("Kerala", "Ernakulam", "682099", day(2025, 5, 1), 0, 3),
	}
	demographic := []model.UpdateRecord{
		demo("Odisha", "Khordha", "751001", day(2025, 5, 1), 6),
		demo("Odisha", "Khordha", "751002", day(2022, 12, 1), 2),
		demo("Kerala", "Ernakulam", "682002", day(2023, 12, 15), 1),
	}
	return snapshot.New(7, asOf, enrollments, biometric, demographic, nil)
}
