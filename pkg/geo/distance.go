// Package geo 地理距离计算
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const (
	EarthRadiusMeters = 6371000.0 // 地球平均半径 (米)
	ClaimRadiusMeters = 100.0     // 领取半径 (米)

	// CoordinateScale 合约坐标精度 (度 * 1e6)
	CoordinateScale = 1e6
)

// Point 经纬度坐标 (十进制度)
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewPoint 创建坐标
func NewPoint(lat, lon float64) Point {
	return Point{Latitude: lat, Longitude: lon}
}

// Valid 检查坐标范围
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// LatLng 转换为 s2.LatLng
func (p Point) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Latitude, p.Longitude)
}

// ToContract 转换为合约整数坐标
func (p Point) ToContract() (lat, lon int64) {
	return ScaleCoordinate(p.Latitude), ScaleCoordinate(p.Longitude)
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// ScaleCoordinate 度数放大 1e6 并四舍五入
func ScaleCoordinate(deg float64) int64 {
	return int64(math.Round(deg * CoordinateScale))
}

// FromContract 合约整数坐标还原为度数
func FromContract(lat, lon int64) Point {
	return Point{
		Latitude:  float64(lat) / CoordinateScale,
		Longitude: float64(lon) / CoordinateScale,
	}
}

// DistanceMeters haversine 大圆距离 (米)
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Distance 两点距离 (米)
func Distance(a, b Point) float64 {
	return DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// DistanceError 超出领取半径
type DistanceError struct {
	Distance float64
	Limit    float64
}

func (e *DistanceError) Error() string {
	return fmt.Sprintf("you must be within %.0fm of the stake to claim it, you are %.0fm away", e.Limit, math.Round(e.Distance))
}

// ValidateClaimLocation 领取前的距离预检
// 通过预检不代表链上交易一定成功
func ValidateClaimLocation(user, stake Point) error {
	d := Distance(user, stake)
	if d > ClaimRadiusMeters {
		return &DistanceError{Distance: d, Limit: ClaimRadiusMeters}
	}
	return nil
}

// Box 经纬度矩形范围
type Box struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains 判断坐标是否在范围内
func (b Box) Contains(p Point) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLon && p.Longitude <= b.MaxLon
}

// BoundingBox 以 center 为中心, 覆盖 radiusMeters 的矩形
// 跨越 180 度经线时经度退化为全范围
func BoundingBox(center Point, radiusMeters float64) Box {
	angle := s1.Angle(radiusMeters / EarthRadiusMeters)

	latMargin := angle
	lngMargin := s1.Angle(math.Pi)
	if cosLat := math.Cos(center.LatLng().Lat.Radians()); cosLat > 1e-9 {
		lngMargin = s1.Angle(math.Min(float64(angle)/cosLat, math.Pi))
	}

	rect := s2.RectFromCenterSize(center.LatLng(), s2.LatLng{Lat: 2 * latMargin, Lng: 2 * lngMargin}).
		PolarClosure()

	box := Box{
		MinLat: rect.Lat.Lo * 180 / math.Pi,
		MaxLat: rect.Lat.Hi * 180 / math.Pi,
		MinLon: -180,
		MaxLon: 180,
	}
	if !rect.Lng.IsFull() && !rect.Lng.IsInverted() {
		box.MinLon = rect.Lng.Lo * 180 / math.Pi
		box.MaxLon = rect.Lng.Hi * 180 / math.Pi
	}
	return box
}
