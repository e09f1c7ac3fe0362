package posts

import (
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisZMember(score float64, member string) redis.Z {
	return redis.Z{Score: score, Member: member}
}

func zRangeByScore(from, to time.Time) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: "(" + strconv.FormatInt(to.Unix(), 10),
	}
}
